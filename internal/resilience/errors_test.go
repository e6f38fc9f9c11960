package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("geocode: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"connection reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"io timeout text", errors.New("Get \"https://geocode.maps.co\": i/o timeout"), true},
		{"bad request", errors.New("geocode: provider returned status 400"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(NewTransientError(errors.New("x"), 502)); got != "transient" {
		t.Errorf("expected transient, got %s", got)
	}
	if got := Classify(fmt.Errorf("call: %w", ErrCircuitOpen)); got != "transient" {
		t.Errorf("expected open circuit to be transient, got %s", got)
	}
	if got := Classify(errors.New("bad key")); got != "permanent" {
		t.Errorf("expected permanent, got %s", got)
	}
}

func TestRetryEntry_CanRetry(t *testing.T) {
	e := RetryEntry{RetryCount: 2, MaxRetries: 3}
	if !e.CanRetry() {
		t.Error("expected entry to be retryable")
	}
	e.RetryCount = 3
	if e.CanRetry() {
		t.Error("expected entry to be exhausted")
	}
}
