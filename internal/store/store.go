// Package store persists per-source listing snapshots, the run log and the
// geocode retry queue.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

var (
	// ErrNotFound is returned when a run or retry entry does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrUnsupported is returned by backends without a run log or retry queue.
	ErrUnsupported = eris.New("store: operation not supported by backend")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string          `json:"source,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the listing pipeline.
type Store interface {
	// Snapshots
	LoadSnapshot(ctx context.Context, source string) (model.SourceSnapshot, error)
	// SaveSnapshot replaces the source's rows with snap.Rows atomically.
	SaveSnapshot(ctx context.Context, snap model.SourceSnapshot) error
	ListSources(ctx context.Context) ([]string, error)

	// Runs
	CreateRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, report *model.RunReport) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Geocode retry queue
	EnqueueRetry(ctx context.Context, e resilience.RetryEntry) error
	ListRetries(ctx context.Context, limit int) ([]resilience.RetryEntry, error)
	DeleteRetry(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// snapshotColumns is the persisted column order of a snapshot row.
var snapshotColumns = []string{
	"identity_key", "address_full", "street", "price", "area", "price_per_area",
	"is_available", "is_new", "is_active", "note", "date_scraped", "link",
	"available_from", "source_name", "neighborhood", "latitude", "longitude",
	"in_preference",
}

// snapshotValues returns r's fields in snapshotColumns order.
func snapshotValues(r model.ListingSnapshotRow) []any {
	return []any{
		r.IdentityKey, r.Address, r.Street, r.Price, r.Area, r.PricePerArea,
		r.IsAvailable, r.IsNew, deref(r.IsActive), deref(r.Note), r.DateScraped.UTC(), r.Link,
		r.AvailableFrom, r.SourceName, deref(r.Neighborhood), deref(r.Latitude), deref(r.Longitude),
		r.InPreference,
	}
}

// deref turns a nil pointer into a SQL NULL.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func runError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
