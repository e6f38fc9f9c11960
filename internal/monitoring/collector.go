package monitoring

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
	"github.com/woonradar/listings-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Row metrics summed over completed runs.
	Ingested  int     `json:"ingested"`
	Skipped   int     `json:"skipped"`
	SkipRate  float64 `json:"skip_rate"`
	Retryable int     `json:"retryable"`

	// Geocode retry queue depth; -1 when the store has no queue.
	RetryQueueDepth int `json:"retry_queue_depth"`

	// LastComplete is the newest completed run per source.
	LastComplete map[string]time.Time `json:"last_complete,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Sources returns the sources with a completed run in the window, sorted.
func (s *MetricsSnapshot) Sources() []string {
	out := make([]string, 0, len(s.LastComplete))
	for src := range s.LastComplete {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// RunLog is the part of the store the collector reads.
type RunLog interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListRetries(ctx context.Context, limit int) ([]resilience.RetryEntry, error)
}

// Collector gathers metrics from the run log and retry queue.
type Collector struct {
	runs RunLog
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLog) *Collector {
	return &Collector{runs: runs, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		LastComplete:  make(map[string]time.Time),
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if r.UpdatedAt.After(snap.LastComplete[r.Source]) {
				snap.LastComplete[r.Source] = r.UpdatedAt
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning, model.RunStatusQueued:
			snap.RunsRunning++
		}
		if r.Report != nil {
			snap.Ingested += r.Report.Ingested
			snap.Skipped += r.Report.Skipped
			snap.Retryable += r.Report.Retryable
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if seen := snap.Ingested + snap.Skipped; seen > 0 {
		snap.SkipRate = float64(snap.Skipped) / float64(seen)
	}

	queued, err := c.runs.ListRetries(ctx, 0)
	switch {
	case errors.Is(err, store.ErrUnsupported):
		snap.RetryQueueDepth = -1
	case err != nil:
		return nil, eris.Wrap(err, "monitoring: list retries")
	default:
		snap.RetryQueueDepth = len(queued)
	}

	return snap, nil
}
