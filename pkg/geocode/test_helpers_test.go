package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

// newTestLimiter creates a rate limiter that effectively does not limit for tests.
func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// fastRetry retries quickly so transient-failure tests stay fast.
func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]model.GeocodeEntry
	puts    int
	failPut error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]model.GeocodeEntry)}
}

func (c *mapCache) Get(key string) (model.GeocodeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[strings.ToLower(key)]
	return e, ok
}

func (c *mapCache) Put(_ context.Context, e model.GeocodeEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPut != nil {
		return c.failPut
	}
	c.puts++
	c.entries[strings.ToLower(e.Key)] = e
	return nil
}

type fakeQueue struct {
	entries []resilience.RetryEntry
}

func (q *fakeQueue) EnqueueRetry(_ context.Context, e resilience.RetryEntry) error {
	q.entries = append(q.entries, e)
	return nil
}

type stubProvider struct {
	calls   int
	queries []Query
	results []Place
	err     error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Search(_ context.Context, q Query) ([]Place, error) {
	p.calls++
	p.queries = append(p.queries, q)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.results) == 0 {
		return nil, ErrNoMatch
	}
	return p.results, nil
}
