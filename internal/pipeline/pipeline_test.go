package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/reconcile"
	"github.com/woonradar/listings-cli/internal/store"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

func vestedaRecords() []map[string]string {
	return []map[string]string{
		{
			"address":  "Van Hallstraat 12",
			"location": "1051 HH Amsterdam",
			"price":    "€ 1.250,-",
			"area":     "85 m2",
			"link":     "/object/1/",
		},
		{
			"address":   "Kinkerstraat 5",
			"location":  "Amsterdam",
			"price":     "990",
			"area":      "40",
			"link":      "/object/2/",
			"latitude":  "52.366",
			"longitude": "4.868",
		},
	}
}

func TestRun_RentalOverwriteLatest(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	street := &fakeGeocoder{
		mode:    geocode.StreetOnly,
		entries: map[string]model.GeocodeEntry{"Van Hallstraat Amsterdam": resolved("Van Hallstraat Amsterdam", 52.384, 4.873, "Staatsliedenbuurt")},
	}
	buy := &fakeGeocoder{mode: geocode.FullAddress}
	p.SetGeocoders(buy, street)
	p.SetClassifier(testClassifier())
	ctx := context.Background()

	report, err := p.Run(ctx, "vesteda", vestedaRecords())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.Geocoded)
	assert.Equal(t, 1, report.CacheHits)
	assert.Equal(t, 1, report.Classified)
	assert.Equal(t, 2, report.InPreference)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, []string{"Van Hallstraat Amsterdam"}, street.resolved, "rows with parser coordinates are not geocoded")
	assert.Empty(t, buy.resolved)

	snap, err := st.LoadSnapshot(ctx, "vesteda")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "https://hurenbij.vesteda.com/object/1/", snap.Rows[0].IdentityKey)
	assert.Equal(t, "Staatsliedenbuurt", model.Deref(snap.Rows[0].Neighborhood))
	assert.True(t, snap.Rows[0].InPreference)
	assert.Nil(t, snap.Rows[0].IsActive)

	run, err := st.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, 2, run.Report.Ingested)

	// Second scrape: one listing with a new price.
	again := vestedaRecords()[:1]
	again[0]["price"] = "1.300"
	report, err = p.Run(ctx, "vesteda", again)
	require.NoError(t, err)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 2, report.Total)

	snap, err = st.LoadSnapshot(ctx, "vesteda")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, 1300.0, snap.Rows[0].Price)
	assert.False(t, snap.Rows[0].IsNew)
	assert.False(t, snap.Rows[1].IsNew)
}

func TestRun_BuySideUsesFullAddress(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	buy := &fakeGeocoder{
		mode:    geocode.FullAddress,
		entries: map[string]model.GeocodeEntry{"Damstraat 2 Amsterdam": resolved("Damstraat 2 Amsterdam", 52.372, 4.894, "Burgwallen-Oude Zijde")},
	}
	street := &fakeGeocoder{mode: geocode.StreetOnly}
	p.SetGeocoders(buy, street)

	report, err := p.Run(context.Background(), "makelaar", []map[string]string{{
		"address": "Damstraat 2, Amsterdam",
		"price":   "€ 450.000 k.k.",
		"area":    "70 m²",
		"url":     "https://makelaar.example/1",
		"status":  "Te koop",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Geocoded)
	assert.Equal(t, []string{"Damstraat 2 Amsterdam"}, buy.resolved)
	assert.Empty(t, street.resolved)

	snap, err := st.LoadSnapshot(context.Background(), "makelaar")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	r := snap.Rows[0]
	assert.Equal(t, "Damstraat 2", r.IdentityKey)
	assert.Equal(t, 450000.0, r.Price)
	assert.True(t, r.IsAvailable)
	assert.Equal(t, "Burgwallen-Oude Zijde", model.Deref(r.Neighborhood))
}

func TestRun_FullHistory(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	ctx := context.Background()
	records := []map[string]string{{"full_adres": "Rokin 10", "url": "/huren/1", "price": "2000", "area": "50"}}

	_, err := p.Run(ctx, "ikwilhuren", records)
	require.NoError(t, err)
	report, err := p.Run(ctx, "ikwilhuren", records)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Active)
	assert.Equal(t, 0, report.New)

	snap, err := st.LoadSnapshot(ctx, "ikwilhuren")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, snap.Rows[0].IdentityKey, snap.Rows[1].IdentityKey)
	assert.False(t, *snap.Rows[0].IsActive)
	assert.True(t, *snap.Rows[1].IsActive)
}

func TestRun_MalformedSkip(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)

	records := vestedaRecords()
	records[1]["price"] = "Prijs op aanvraag"
	records = append(records, map[string]string{"price": "1000"})

	report, err := p.Run(context.Background(), "vesteda", records)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.SkippedRows, 2)
	assert.Equal(t, 1, report.SkippedRows[0].Index)
	assert.Equal(t, "https://hurenbij.vesteda.com/object/2/", report.SkippedRows[0].IdentityKey)
	assert.NotEmpty(t, report.SkippedRows[0].Reason)
	assert.Equal(t, 2, report.SkippedRows[1].Index)
	assert.Equal(t, 1, report.Total)
}

func TestRun_MalformedFail(t *testing.T) {
	st := newSQLiteStore(t)
	sources, err := SourcesFile{Sources: map[string]SourceConfig{"vesteda": {Malformed: "fail"}}}.Build(reconcile.MalformedSkip)
	require.NoError(t, err)
	p := newTestPipeline(st, sources)
	ctx := context.Background()

	records := vestedaRecords()
	records[1]["price"] = "n.o.t.k."
	report, err := p.Run(ctx, "vesteda", records)
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrMalformedBatch)
	require.NotNil(t, report)

	runs, err := st.ListRuns(ctx, store.RunFilter{Source: "vesteda"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)

	snap, err := st.LoadSnapshot(ctx, "vesteda")
	require.NoError(t, err)
	assert.Empty(t, snap.Rows, "a failed batch leaves the snapshot untouched")
}

func TestRun_RetryableGeocodeIsNotFatal(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	p.SetGeocoders(nil, &fakeGeocoder{
		mode:      geocode.StreetOnly,
		retryable: map[string]bool{"Van Hallstraat Amsterdam": true},
	})

	report, err := p.Run(context.Background(), "vesteda", vestedaRecords()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retryable)
	assert.Equal(t, 0, report.Geocoded)
	assert.Equal(t, 1, report.Ingested)

	snap, err := st.LoadSnapshot(context.Background(), "vesteda")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Nil(t, snap.Rows[0].Latitude)
}

func TestRun_GeocoderFailureIsFatal(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	p.SetGeocoders(nil, &fakeGeocoder{mode: geocode.StreetOnly, err: errors.New("disk full")})
	ctx := context.Background()

	_, err := p.Run(ctx, "vesteda", vestedaRecords())
	require.Error(t, err)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRun_FuzzyEnrichesRentals(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	p.SetGeocoders(nil, &fakeGeocoder{mode: geocode.StreetOnly})
	p.SetStreetReferences(staticRefs{resolved("Van Hallstraat Amsterdam", 52.384, 4.873, "Staatsliedenbuurt")})

	report, err := p.Run(context.Background(), "vesteda", []map[string]string{{
		"address":  "Van Halstraat 3",
		"location": "Amsterdam",
		"price":    "1100",
		"area":     "50",
		"link":     "/object/9/",
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Geocoded)
	assert.Equal(t, 1, report.FuzzyMatched)

	snap, err := st.LoadSnapshot(context.Background(), "vesteda")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	require.NotNil(t, snap.Rows[0].Latitude)
	assert.InDelta(t, 52.384, *snap.Rows[0].Latitude, 1e-9)
	assert.Equal(t, "Staatsliedenbuurt", model.Deref(snap.Rows[0].Neighborhood))
}

func TestRun_CSVStoreHasNoRunLog(t *testing.T) {
	st, err := store.NewCSV(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	p := newTestPipeline(st, nil)

	report, err := p.Run(context.Background(), "vesteda", vestedaRecords())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Total)

	snap, err := st.LoadSnapshot(context.Background(), "vesteda")
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)
}

func TestRun_UnknownSource(t *testing.T) {
	p := newTestPipeline(newSQLiteStore(t), nil)
	report, err := p.Run(context.Background(), "funda", nil)
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestRun_CancelledContext(t *testing.T) {
	st := newSQLiteStore(t)
	p := newTestPipeline(st, nil)
	p.SetClassifier(testClassifier())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, "vesteda", vestedaRecords())
	assert.Error(t, err)
}
