// Package geocode resolves normalized addresses to coordinates through a
// persistent cache, calling an external provider only on a cache miss.
package geocode

import (
	"context"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoMatch is returned by a Provider when the search has no results.
	ErrNoMatch = eris.New("geocode: no match")
	// ErrRetryable marks a lookup that failed transiently and was not
	// cached. The key has been queued for a later retry.
	ErrRetryable = eris.New("geocode: retryable failure")
	// ErrInvalidQuery is returned by Resolver.Retry for a queued query that
	// cannot be decoded. Such an entry will never succeed.
	ErrInvalidQuery = eris.New("geocode: invalid queued query")
)

// Query is one provider search. Street mode fills Street and City; full
// address mode fills Text.
type Query struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	Text    string `json:"text,omitempty"`
}

// String renders the query for logs and the retry queue.
func (q Query) String() string {
	if q.Text != "" {
		return q.Text
	}
	s := q.Street
	if q.City != "" {
		s += ", " + q.City
	}
	if q.Country != "" {
		s += ", " + q.Country
	}
	return s
}

// Place is one provider result.
type Place struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Provider is a forward geocoding backend.
type Provider interface {
	Name() string
	// Search returns matching places, best first. No results is ErrNoMatch.
	Search(ctx context.Context, q Query) ([]Place, error)
}
