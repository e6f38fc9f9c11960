package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the pipeline for a single source.
type Run struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Status    RunStatus  `json:"status"`
	Report    *RunReport `json:"report,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SkippedRow records an input row dropped by the malformed-row policy.
type SkippedRow struct {
	Index       int    `json:"index"`
	IdentityKey string `json:"identity_key,omitempty"`
	Reason      string `json:"reason"`
}

// RunReport summarizes what a run did to a source's snapshot.
type RunReport struct {
	RunID    string    `json:"run_id"`
	Source   string    `json:"source"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Ingested      int `json:"ingested"`
	Skipped       int `json:"skipped"`
	CacheHits     int `json:"cache_hits"`
	ProviderCalls int `json:"provider_calls"`
	Geocoded      int `json:"geocoded"`
	Retryable     int `json:"retryable"`
	FuzzyMatched  int `json:"fuzzy_matched"`
	Classified    int `json:"classified"`
	InPreference  int `json:"in_preference"`
	New           int `json:"new"`
	Active        int `json:"active"`
	Total         int `json:"total"`

	SkippedRows []SkippedRow `json:"skipped_rows,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
