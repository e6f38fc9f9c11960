// Package listing maps parser exports of the supported brokers onto
// RawListing records and coerces them into snapshot rows.
package listing

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/model"
)

// ErrMalformed marks a record that cannot be turned into a snapshot row.
var ErrMalformed = eris.New("listing: malformed record")

// Kind selects how a source's rows are geocoded.
type Kind string

const (
	// KindBuy geocodes every full address (street, number and city).
	KindBuy Kind = "buy"
	// KindRental geocodes streets only and fills the rest by fuzzy match.
	KindRental Kind = "rental"
)

// Adapter maps one source's parser output.
type Adapter interface {
	Source() string
	Policy() model.Policy
	Pipeline() Kind
	// Map turns one header-keyed record into a RawListing.
	Map(rec map[string]string, scrapedAt time.Time) (model.RawListing, error)
	// IdentityKey returns the key that deduplicates raw across scrapes.
	IdentityKey(raw model.RawListing) string
	// Available reports whether the listing can still be rented or bought.
	Available(raw model.RawListing) bool
}

type identity int

const (
	byLink identity = iota
	byAddress
)

// columns lists, per field, the export headers that may carry it. The first
// non-empty one wins.
type columns struct {
	address       []string
	city          []string
	price         []string
	area          []string
	link          []string
	status        []string
	note          []string
	availableFrom []string
	available     []string
	latitude      []string
	longitude     []string
}

// statusRule decides availability from free status text. Unavailable
// phrases are checked first, then available ones, then the fallback.
type statusRule struct {
	unavailable []string
	available   []string
	fallback    bool
}

func (r statusRule) match(status string) bool {
	s := strings.ToLower(status)
	for _, w := range r.unavailable {
		if strings.Contains(s, w) {
			return false
		}
	}
	for _, w := range r.available {
		if strings.Contains(s, w) {
			return true
		}
	}
	return r.fallback
}

type sourceAdapter struct {
	name     string
	policy   model.Policy
	kind     Kind
	identity identity
	linkBase string
	cols     columns
	status   statusRule
}

func (a *sourceAdapter) Source() string       { return a.name }
func (a *sourceAdapter) Policy() model.Policy { return a.policy }
func (a *sourceAdapter) Pipeline() Kind       { return a.kind }

// Map implements Adapter. A record without address and link is malformed.
func (a *sourceAdapter) Map(rec map[string]string, scrapedAt time.Time) (model.RawListing, error) {
	cols := normalizeRecord(rec)
	raw := model.RawListing{
		Source:        a.name,
		Address:       firstNonEmpty(cols, a.cols.address...),
		City:          firstNonEmpty(cols, a.cols.city...),
		Price:         firstNonEmpty(cols, a.cols.price...),
		Area:          firstNonEmpty(cols, a.cols.area...),
		Link:          a.absoluteLink(firstNonEmpty(cols, a.cols.link...)),
		Status:        firstNonEmpty(cols, a.cols.status...),
		Note:          firstNonEmpty(cols, a.cols.note...),
		AvailableFrom: firstNonEmpty(cols, a.cols.availableFrom...),
		Latitude:      parseCoord(firstNonEmpty(cols, a.cols.latitude...)),
		Longitude:     parseCoord(firstNonEmpty(cols, a.cols.longitude...)),
		ScrapedAt:     scrapedAt,
	}
	if v := firstNonEmpty(cols, a.cols.available...); v != "" {
		raw.Extra = map[string]string{"is_available": v}
	}
	if raw.Address == "" && raw.Link == "" {
		return raw, eris.Wrapf(ErrMalformed, "%s: record has neither address nor link", a.name)
	}
	return raw, nil
}

// IdentityKey implements Adapter. Rental sources key on the listing link;
// buy sources on street and house number.
func (a *sourceAdapter) IdentityKey(raw model.RawListing) string {
	if a.identity == byLink && raw.Link != "" {
		return raw.Link
	}
	addr := address.Normalize(raw.Address, address.Options{City: raw.City})
	return strings.TrimSpace(addr.Street + " " + model.Deref(addr.NumberExtension))
}

// Available implements Adapter. An explicit boolean column wins over the
// status text.
func (a *sourceAdapter) Available(raw model.RawListing) bool {
	if v, ok := parseBool(raw.Extra["is_available"]); ok {
		return v
	}
	return a.status.match(raw.Status)
}

func (a *sourceAdapter) absoluteLink(link string) string {
	if link == "" || a.linkBase == "" || !strings.HasPrefix(link, "/") {
		return link
	}
	return strings.TrimRight(a.linkBase, "/") + link
}

// normalizeCol lowercases and trims a header for cross-export matching.
func normalizeCol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeRecord(rec map[string]string) map[string]string {
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		out[normalizeCol(k)] = strings.TrimSpace(v)
	}
	return out
}

// firstNonEmpty returns the first non-empty value from the named columns.
func firstNonEmpty(rec map[string]string, names ...string) string {
	for _, name := range names {
		if v := rec[normalizeCol(name)]; v != "" && !strings.EqualFold(v, "nan") {
			return v
		}
	}
	return ""
}
