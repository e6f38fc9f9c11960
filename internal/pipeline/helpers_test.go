package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/woonradar/listings-cli/internal/geo"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/reconcile"
	"github.com/woonradar/listings-cli/internal/resilience"
	"github.com/woonradar/listings-cli/internal/store"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

var runTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeGeocoder answers from a fixed table. Keys not in entries resolve to
// a null entry; keys in retryable fail transiently.
type fakeGeocoder struct {
	mode      geocode.KeyMode
	entries   map[string]model.GeocodeEntry
	retryable map[string]bool
	retryErrs map[string]error
	err       error
	resolved  []string
	retried   []string
}

func (g *fakeGeocoder) Key(addr model.NormalizedAddress) string {
	if g.mode == geocode.StreetOnly {
		return addr.StreetOnlyKey()
	}
	return addr.CanonicalKey()
}

func (g *fakeGeocoder) ResolveAll(_ context.Context, addrs []model.NormalizedAddress) (map[string]model.GeocodeEntry, geocode.Tally, error) {
	var t geocode.Tally
	out := make(map[string]model.GeocodeEntry)
	for _, a := range addrs {
		key := g.Key(a)
		if _, done := out[key]; done {
			continue
		}
		g.resolved = append(g.resolved, key)
		if g.retryable[key] {
			t.Retryable++
			continue
		}
		if e, ok := g.entries[key]; ok {
			t.CacheHits++
			out[key] = e
			continue
		}
		t.ProviderCalls++
		out[key] = model.GeocodeEntry{Key: key}
	}
	return out, t, g.err
}

func (g *fakeGeocoder) Retry(_ context.Context, e resilience.RetryEntry) (model.GeocodeEntry, error) {
	g.retried = append(g.retried, e.CacheKey)
	if err := g.retryErrs[e.CacheKey]; err != nil {
		return model.GeocodeEntry{Key: e.CacheKey}, err
	}
	if entry, ok := g.entries[e.CacheKey]; ok {
		return entry, nil
	}
	return model.GeocodeEntry{Key: e.CacheKey}, nil
}

type staticRefs []model.GeocodeEntry

func (r staticRefs) Entries() []model.GeocodeEntry { return r }

func resolved(key string, lat, lon float64, hood string) model.GeocodeEntry {
	return model.GeocodeEntry{
		Key:          key,
		Latitude:     model.Float(lat),
		Longitude:    model.Float(lon),
		Neighborhood: model.String(hood),
	}
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(st store.Store, sources *Sources) *Pipeline {
	if sources == nil {
		sources = DefaultSources(reconcile.MalformedSkip)
	}
	p := New(Config{Concurrency: 2, FuzzyThreshold: 85}, st, sources)
	p.now = func() time.Time { return runTime }
	return p
}

func square(minLon, minLat, maxLon, maxLat float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}})
}

func testClassifier() *geo.Classifier {
	hoods := &geo.PolygonSet{Name: "neighborhoods", Features: []geo.NamedPolygon{
		{Name: "Staatsliedenbuurt", Polygons: []*geom.Polygon{square(4.87, 52.37, 4.89, 52.39)}},
	}}
	prefs := &geo.PolygonSet{Name: "preferences", Features: []geo.NamedPolygon{
		{Name: "west", Polygons: []*geom.Polygon{square(4.86, 52.36, 4.88, 52.40)}},
	}}
	return geo.NewClassifier(hoods, prefs)
}
