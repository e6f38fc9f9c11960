// Package model defines the records that flow through the listing pipeline.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RawListing is a source-tagged record as produced by a broker parser.
// Price and Area hold the parser's text; coercion happens in the adapter.
type RawListing struct {
	Source        string            `json:"source"`
	Address       string            `json:"address"`
	City          string            `json:"city,omitempty"`
	Price         string            `json:"price"`
	Area          string            `json:"area"`
	Link          string            `json:"link,omitempty"`
	Status        string            `json:"status,omitempty"`
	Note          string            `json:"note,omitempty"`
	AvailableFrom string            `json:"available_from,omitempty"`
	Latitude      *float64          `json:"latitude,omitempty"`
	Longitude     *float64          `json:"longitude,omitempty"`
	ScrapedAt     time.Time         `json:"scraped_at"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Policy selects how a fresh batch is merged into a source's history.
type Policy string

const (
	// PolicyOverwriteLatest deduplicates by identity key, newest row wins.
	PolicyOverwriteLatest Policy = "overwrite_latest"
	// PolicyFullHistory keeps every row and flags the latest scrape active.
	PolicyFullHistory Policy = "full_history"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyOverwriteLatest:
		return PolicyOverwriteLatest, nil
	case PolicyFullHistory:
		return PolicyFullHistory, nil
	default:
		return "", eris.Errorf("model: unknown reconciliation policy %q", s)
	}
}

// ListingSnapshotRow is the persisted record for one listing of one source.
type ListingSnapshotRow struct {
	IdentityKey   string    `json:"identity_key" csv:"identity_key"`
	Address       string    `json:"address_full" csv:"address_full"`
	Street        string    `json:"street" csv:"street"`
	Price         float64   `json:"price" csv:"price"`
	Area          float64   `json:"area" csv:"area"`
	PricePerArea  float64   `json:"price_per_area" csv:"price_per_area"`
	IsAvailable   bool      `json:"is_available" csv:"is_available"`
	IsNew         bool      `json:"is_new" csv:"is_new"`
	IsActive      *bool     `json:"is_active,omitempty" csv:"is_active,omitempty"`
	DateScraped   time.Time `json:"date_scraped" csv:"date_scraped"`
	Note          *string   `json:"note,omitempty" csv:"note,omitempty"`
	Link          string    `json:"link,omitempty" csv:"link"`
	AvailableFrom string    `json:"available_from,omitempty" csv:"available_from"`
	SourceName    string    `json:"source_name" csv:"source_name"`
	Neighborhood  *string   `json:"neighborhood,omitempty" csv:"neighborhood,omitempty"`
	Latitude      *float64  `json:"latitude,omitempty" csv:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty" csv:"longitude,omitempty"`
	InPreference  bool      `json:"in_preference" csv:"in_preference"`
}

// HasLocation reports whether the row carries coordinates.
func (r *ListingSnapshotRow) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Enriched reports whether lat, lon and neighborhood are all present.
func (r *ListingSnapshotRow) Enriched() bool {
	return r.HasLocation() && r.Neighborhood != nil && *r.Neighborhood != ""
}

// Active reports the row's activity flag; rows without one count as active.
func (r *ListingSnapshotRow) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// SourceSnapshot is the full persisted history table of one source.
type SourceSnapshot struct {
	Source string               `json:"source"`
	Rows   []ListingSnapshotRow `json:"rows"`
}

// Keys returns the set of identity keys present in the snapshot.
func (s SourceSnapshot) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s.Rows))
	for _, r := range s.Rows {
		keys[r.IdentityKey] = struct{}{}
	}
	return keys
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *s or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
