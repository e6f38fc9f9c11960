package fuzzy

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/model"
)

// DefaultThreshold is the minimum score for a match to be accepted.
const DefaultThreshold = 85.0

type reference struct {
	street string
	entry  model.GeocodeEntry
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithCities strips a trailing " <city>" from reference keys so street-only
// cache keys compare against bare listing streets.
func WithCities(cities ...string) MatcherOption {
	return func(m *Matcher) {
		for _, c := range cities {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				m.cities = append(m.cities, c)
			}
		}
	}
}

// Matcher holds the reference streets. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	refs      []reference
	threshold float64
	cities    []string
}

// NewMatcher builds the reference list from street cache entries in order.
// Keys are lower-cased and trimmed; the first entry for a street wins.
// Entries without coordinates are not references. A threshold <= 0 means
// DefaultThreshold.
func NewMatcher(entries []model.GeocodeEntry, threshold float64, opts ...MatcherOption) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{threshold: threshold}
	for _, opt := range opts {
		opt(m)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.Resolved() {
			continue
		}
		street := m.streetOf(e)
		if street == "" {
			continue
		}
		if _, dup := seen[street]; dup {
			continue
		}
		seen[street] = struct{}{}
		m.refs = append(m.refs, reference{street: street, entry: e})
	}
	return m
}

// Len returns the number of reference streets.
func (m *Matcher) Len() int { return len(m.refs) }

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Best returns the highest scoring reference for street. Ties keep the
// earliest reference. ok is false when there are no references.
func (m *Matcher) Best(street string) (entry model.GeocodeEntry, score float64, ok bool) {
	q := strings.ToLower(strings.TrimSpace(street))
	best := -1
	for i, ref := range m.refs {
		s := TokenSortRatio(q, ref.street)
		if s > score || best < 0 {
			best, score = i, s
		}
	}
	if best < 0 {
		return model.GeocodeEntry{}, 0, false
	}
	return m.refs[best].entry, score, true
}

// Enrich copies latitude, longitude and neighborhood from the best matching
// reference street when it scores at or above the threshold. Rows that
// already carry all three are returned unchanged, as are rows without a
// good enough match. The bool reports whether a match was applied.
func (m *Matcher) Enrich(row model.ListingSnapshotRow) (model.ListingSnapshotRow, bool) {
	if row.Enriched() {
		return row, false
	}

	street := row.Street
	if strings.TrimSpace(street) == "" {
		street = address.ExtractStreet(row.Address)
	}
	if strings.TrimSpace(street) == "" {
		return row, false
	}

	e, score, ok := m.Best(street)
	if !ok || score < m.threshold {
		return row, false
	}

	row.Latitude = model.Float(*e.Latitude)
	row.Longitude = model.Float(*e.Longitude)
	if e.Neighborhood != nil {
		row.Neighborhood = model.String(*e.Neighborhood)
	}
	return row, true
}

// EnrichAll runs Enrich over rows with up to concurrency goroutines. The
// input slice is not modified. Returns the enriched rows and the number of
// matches applied.
func (m *Matcher) EnrichAll(ctx context.Context, rows []model.ListingSnapshotRow, concurrency int) ([]model.ListingSnapshotRow, int, error) {
	out := make([]model.ListingSnapshotRow, len(rows))
	matched := make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i], matched[i] = m.Enrich(rows[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, eris.Wrap(err, "fuzzy: enrich")
	}

	n := 0
	for _, ok := range matched {
		if ok {
			n++
		}
	}
	zap.L().Debug("fuzzy enrichment done",
		zap.Int("rows", len(rows)),
		zap.Int("matched", n),
		zap.Int("references", len(m.refs)),
	)
	return out, n, nil
}

func (m *Matcher) streetOf(e model.GeocodeEntry) string {
	key := strings.ToLower(strings.Join(strings.Fields(e.Key), " "))
	suffixes := m.cities
	if e.City != nil {
		suffixes = append(suffixes[:len(suffixes):len(suffixes)], strings.ToLower(strings.TrimSpace(*e.City)))
	}
	for _, c := range suffixes {
		if c != "" && strings.HasSuffix(key, " "+c) {
			return strings.TrimSpace(strings.TrimSuffix(key, " "+c))
		}
	}
	return key
}
