package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/resilience"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

// RetryResult counts what a retry-queue drain did.
type RetryResult struct {
	Attempted  int `json:"attempted"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Requeued   int `json:"requeued"`
	Dropped    int `json:"dropped"`
	Skipped    int `json:"skipped"`
}

// RetryGeocodes re-runs up to limit queued geocode lookups, oldest failure
// first. A lookup that completes (resolved or a cached null) leaves the
// queue. A repeated transient failure is re-queued with its retry count
// bumped until MaxRetries, then dropped. Entries for a key mode with no
// geocoder configured are left queued.
func (p *Pipeline) RetryGeocodes(ctx context.Context, limit int) (RetryResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.retry"))
	var res RetryResult

	entries, err := p.store.ListRetries(ctx, limit)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: list retries")
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pipeline: retry cancelled")
		}

		g := p.geocoderForMode(geocode.KeyMode(e.KeyMode))
		if g == nil {
			res.Skipped++
			continue
		}

		res.Attempted++
		entry, err := g.Retry(ctx, e)
		switch {
		case err == nil:
			if entry.Resolved() {
				res.Resolved++
			} else {
				res.Unresolved++
			}
			if err := p.store.DeleteRetry(ctx, e.ID); err != nil {
				return res, eris.Wrapf(err, "pipeline: dequeue %s", e.CacheKey)
			}

		case errors.Is(err, geocode.ErrRetryable):
			e.RetryCount++
			e.Error = err.Error()
			e.ErrorType = resilience.Classify(err)
			e.LastFailedAt = p.now()
			if e.CanRetry() {
				res.Requeued++
				if err := p.store.EnqueueRetry(ctx, e); err != nil {
					return res, eris.Wrapf(err, "pipeline: requeue %s", e.CacheKey)
				}
				continue
			}
			res.Dropped++
			log.Warn("pipeline: geocode retries exhausted",
				zap.String("key", e.CacheKey),
				zap.Int("retry_count", e.RetryCount),
				zap.Error(err),
			)
			if err := p.store.DeleteRetry(ctx, e.ID); err != nil {
				return res, eris.Wrapf(err, "pipeline: dequeue %s", e.CacheKey)
			}

		case errors.Is(err, geocode.ErrInvalidQuery):
			res.Dropped++
			log.Warn("pipeline: dropping undecodable retry entry", zap.String("key", e.CacheKey), zap.Error(err))
			if err := p.store.DeleteRetry(ctx, e.ID); err != nil {
				return res, eris.Wrapf(err, "pipeline: dequeue %s", e.CacheKey)
			}

		default:
			return res, eris.Wrapf(err, "pipeline: retry %s", e.CacheKey)
		}
	}

	log.Info("pipeline: retry queue drained",
		zap.Int("attempted", res.Attempted),
		zap.Int("resolved", res.Resolved),
		zap.Int("requeued", res.Requeued),
		zap.Int("dropped", res.Dropped),
	)
	return res, nil
}
