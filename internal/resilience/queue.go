package resilience

import (
	"time"
)

// RetryEntry is a geocode lookup that failed transiently and should be
// attempted again by a later `geocode retry`.
type RetryEntry struct {
	ID           string    `json:"id"`
	CacheKey     string    `json:"cache_key"`
	KeyMode      string    `json:"key_mode"` // "full_address" or "street_only"
	Query        string    `json:"query"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *RetryEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
