package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxRetries:  3,
		RatePerSec:  1000,
		BaseBackoff: time.Millisecond,
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.txt")
	n, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/file", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestRetryOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_Non200(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "listings-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.Equal(t, 2.0, f.opts.RatePerSec)
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher().Download(ctx, srv.URL)
	assert.Error(t, err)
}
