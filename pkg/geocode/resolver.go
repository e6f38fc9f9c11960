package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

// KeyMode selects the cache key granularity of a Resolver.
type KeyMode string

const (
	// FullAddress keys by street, number extension and city (buy side).
	FullAddress KeyMode = "full_address"
	// StreetOnly keys by street and city (rental side).
	StreetOnly KeyMode = "street_only"
)

// ParseKeyMode maps a config value to a KeyMode.
func ParseKeyMode(s string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case FullAddress:
		return FullAddress, nil
	case StreetOnly:
		return StreetOnly, nil
	default:
		return "", eris.Errorf("geocode: unknown key mode %q", s)
	}
}

// Cache is the lookup store a Resolver reads and writes.
type Cache interface {
	Get(key string) (model.GeocodeEntry, bool)
	Put(ctx context.Context, e model.GeocodeEntry) error
}

// RetryQueue records keys whose lookup failed transiently.
type RetryQueue interface {
	EnqueueRetry(ctx context.Context, e resilience.RetryEntry) error
}

// RetryableError is returned when a provider call failed transiently. It
// matches ErrRetryable with errors.Is.
type RetryableError struct {
	Key string
	Err error
}

func (e *RetryableError) Error() string {
	return "geocode: retryable failure for " + e.Key + ": " + e.Err.Error()
}

// Is reports whether target is ErrRetryable.
func (e *RetryableError) Is(target error) bool { return target == ErrRetryable }

func (e *RetryableError) Unwrap() error { return e.Err }

// Tally counts what a batch of lookups did.
type Tally struct {
	CacheHits     int
	ProviderCalls int
	Resolved      int
	Unresolved    int
	Retryable     int
}

// Add accumulates o into t.
func (t *Tally) Add(o Tally) {
	t.CacheHits += o.CacheHits
	t.ProviderCalls += o.ProviderCalls
	t.Resolved += o.Resolved
	t.Unresolved += o.Unresolved
	t.Retryable += o.Retryable
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithKeyMode sets the cache key granularity. Default FullAddress.
func WithKeyMode(m KeyMode) Option {
	return func(r *Resolver) { r.mode = m }
}

// WithLimiter shares a rate limiter across resolvers using one provider.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// WithRateLimit sets the provider rate in requests per second, burst 1.
func WithRateLimit(rps float64) Option {
	return func(r *Resolver) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetry sets the retry policy for provider calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resolver) { r.retry = cfg }
}

// WithCircuitBreaker sets the breaker guarding the provider.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Resolver) { r.breaker = cb }
}

// WithRetryQueue records transient failures in q.
func WithRetryQueue(q RetryQueue) Option {
	return func(r *Resolver) { r.queue = q }
}

// WithCountry sets the country code sent with street queries.
func WithCountry(cc string) Option {
	return func(r *Resolver) { r.country = cc }
}

// WithStreetNumberPrefix sets the house number put in front of street-only
// queries so the provider returns a point on the street. Empty disables it.
func WithStreetNumberPrefix(n string) Option {
	return func(r *Resolver) { r.numberPrefix = n }
}

// WithMaxQueuedRetries caps how often a queued key is retried.
func WithMaxQueuedRetries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxQueued = n
		}
	}
}

// Resolver is the cache-first geocoder. It is not safe for concurrent
// Resolve calls; lookups run sequentially behind the rate limiter.
type Resolver struct {
	cache        Cache
	provider     Provider
	limiter      *rate.Limiter
	retry        resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
	queue        RetryQueue
	mode         KeyMode
	country      string
	numberPrefix string
	maxQueued    int
	now          func() time.Time
	log          *zap.Logger
}

// NewResolver returns a Resolver over cache and provider.
func NewResolver(cache Cache, provider Provider, opts ...Option) *Resolver {
	r := &Resolver{
		cache:        cache,
		provider:     provider,
		limiter:      rate.NewLimiter(1, 1),
		retry:        resilience.DefaultRetryConfig(),
		mode:         FullAddress,
		country:      "NL",
		numberPrefix: "1",
		maxQueued:    5,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	r.log = zap.L().With(
		zap.String("component", "geocode"),
		zap.String("provider", provider.Name()),
		zap.String("mode", string(r.mode)),
	)
	return r
}

// Mode returns the resolver's key granularity.
func (r *Resolver) Mode() KeyMode { return r.mode }

// Key returns the cache key for addr under the resolver's mode.
func (r *Resolver) Key(addr model.NormalizedAddress) string {
	if r.mode == StreetOnly {
		return addr.StreetOnlyKey()
	}
	return addr.CanonicalKey()
}

// QueryFor builds the provider query for addr.
func (r *Resolver) QueryFor(addr model.NormalizedAddress) Query {
	if r.mode == StreetOnly {
		street := addr.Street
		if r.numberPrefix != "" {
			street = r.numberPrefix + " " + street
		}
		return Query{Street: street, City: addr.City, Country: r.country}
	}

	text := strings.TrimSpace(addr.Street + " " + model.Deref(addr.NumberExtension))
	if addr.City != "" {
		text += ", " + addr.City
	}
	return Query{Text: text}
}

// Resolve returns the entry for addr, calling the provider only on a cache
// miss. A no-match or permanent provider error is cached as a null entry
// and is not an error. A transient failure returns a null entry and a
// *RetryableError; nothing is cached. A failed cache write is returned as
// is and should abort the run.
func (r *Resolver) Resolve(ctx context.Context, addr model.NormalizedAddress) (model.GeocodeEntry, error) {
	var t Tally
	return r.resolve(ctx, addr, &t)
}

// ResolveAll resolves every distinct key in addrs in order. Transient
// failures are counted and skipped; any other error stops the batch.
func (r *Resolver) ResolveAll(ctx context.Context, addrs []model.NormalizedAddress) (map[string]model.GeocodeEntry, Tally, error) {
	var t Tally
	out := make(map[string]model.GeocodeEntry, len(addrs))
	failed := make(map[string]struct{})
	for _, addr := range addrs {
		key := r.Key(addr)
		if key == "" {
			continue
		}
		if _, done := out[key]; done {
			continue
		}
		if _, done := failed[key]; done {
			continue
		}

		e, err := r.resolve(ctx, addr, &t)
		if errors.Is(err, ErrRetryable) {
			failed[key] = struct{}{}
			continue
		}
		if err != nil {
			return out, t, err
		}
		out[key] = e
	}

	r.log.Info("geocode batch complete",
		zap.Int("keys", len(out)),
		zap.Int("cache_hits", t.CacheHits),
		zap.Int("provider_calls", t.ProviderCalls),
		zap.Int("resolved", t.Resolved),
		zap.Int("unresolved", t.Unresolved),
		zap.Int("retryable", t.Retryable),
	)
	return out, t, nil
}

// Retry re-runs a queued lookup. It does not enqueue again; the caller
// decides what to do with a repeated transient failure.
func (r *Resolver) Retry(ctx context.Context, e resilience.RetryEntry) (model.GeocodeEntry, error) {
	if cached, ok := r.cache.Get(e.CacheKey); ok {
		return cached, nil
	}
	var q Query
	if err := json.Unmarshal([]byte(e.Query), &q); err != nil {
		return model.GeocodeEntry{}, eris.Wrapf(ErrInvalidQuery, "decode %q: %v", e.CacheKey, err)
	}
	var t Tally
	return r.lookup(ctx, e.CacheKey, q, &t, false)
}

func (r *Resolver) resolve(ctx context.Context, addr model.NormalizedAddress, t *Tally) (model.GeocodeEntry, error) {
	key := r.Key(addr)
	if key == "" {
		return model.GeocodeEntry{}, nil
	}
	if e, ok := r.cache.Get(key); ok {
		t.CacheHits++
		return e, nil
	}
	return r.lookup(ctx, key, r.QueryFor(addr), t, true)
}

func (r *Resolver) lookup(ctx context.Context, key string, q Query, t *Tally, enqueue bool) (model.GeocodeEntry, error) {
	places, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) ([]Place, error) {
		return resilience.DoVal(ctx, r.retry, func(ctx context.Context) ([]Place, error) {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, &limiterWaitError{err: err}
			}
			t.ProviderCalls++
			r.log.Debug("provider call", zap.String("key", key), zap.String("query", q.String()))
			return r.provider.Search(ctx, q)
		})
	})
	if err == nil && len(places) == 0 {
		err = ErrNoMatch
	}

	entry := model.GeocodeEntry{Key: key, UpdatedAt: r.now()}
	switch {
	case err == nil:
		p := places[0]
		c := ParseDisplayName(p.DisplayName)
		entry.Latitude = model.Float(p.Latitude)
		entry.Longitude = model.Float(p.Longitude)
		entry.DisplayName = model.String(p.DisplayName)
		entry.Neighborhood = c.Neighborhood
		entry.District = c.District
		entry.City = c.City
		entry.Postcode = c.Postcode
		t.Resolved++

	case ctx.Err() != nil:
		return entry, eris.Wrapf(ctx.Err(), "geocode: resolve %q", key)

	case errors.As(err, new(*limiterWaitError)):
		// The provider was never asked, so there is nothing to cache.
		t.Retryable++
		r.log.Warn("rate limit wait failed, not cached",
			zap.String("key", key),
			zap.Error(err),
		)
		cause := resilience.NewTransientError(err, 0)
		if enqueue {
			r.enqueue(ctx, key, q, cause)
		}
		return entry, &RetryableError{Key: key, Err: cause}

	case resilience.Classify(err) == "transient":
		t.Retryable++
		r.log.Warn("transient geocode failure, not cached",
			zap.String("key", key),
			zap.Error(err),
		)
		if enqueue {
			r.enqueue(ctx, key, q, err)
		}
		return entry, &RetryableError{Key: key, Err: err}

	default:
		t.Unresolved++
		if !errors.Is(err, ErrNoMatch) {
			r.log.Warn("permanent geocode failure, caching null entry",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	if err := r.cache.Put(ctx, entry); err != nil {
		return entry, eris.Wrapf(err, "geocode: cache %q", key)
	}
	return entry, nil
}

// limiterWaitError marks a limiter refusal, typically because the next token
// lands past the context deadline. It is not transient so neither the retry
// loop nor the breaker treat it as a provider failure.
type limiterWaitError struct {
	err error
}

func (e *limiterWaitError) Error() string { return "geocode: rate limit wait: " + e.err.Error() }

func (e *limiterWaitError) Unwrap() error { return e.err }

func (r *Resolver) enqueue(ctx context.Context, key string, q Query, cause error) {
	if r.queue == nil {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		r.log.Warn("encode retry query", zap.String("key", key), zap.Error(err))
		return
	}
	now := r.now()
	if err := r.queue.EnqueueRetry(ctx, resilience.RetryEntry{
		ID:           uuid.NewString(),
		CacheKey:     key,
		KeyMode:      string(r.mode),
		Query:        string(raw),
		Error:        cause.Error(),
		ErrorType:    resilience.Classify(cause),
		MaxRetries:   r.maxQueued,
		CreatedAt:    now,
		LastFailedAt: now,
	}); err != nil {
		r.log.Warn("enqueue geocode retry", zap.String("key", key), zap.Error(err))
	}
}
