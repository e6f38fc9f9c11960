// Package pipeline runs a source's parser export through normalization,
// geocoding, fuzzy and spatial enrichment, and reconciliation against the
// stored snapshot.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/woonradar/listings-cli/internal/address"
	"github.com/woonradar/listings-cli/internal/fuzzy"
	"github.com/woonradar/listings-cli/internal/geo"
	"github.com/woonradar/listings-cli/internal/listing"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/reconcile"
	"github.com/woonradar/listings-cli/internal/resilience"
	"github.com/woonradar/listings-cli/internal/store"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

// Config tunes a Pipeline.
type Config struct {
	// Concurrency bounds the fuzzy and spatial fan-out. <= 0 is unbounded.
	Concurrency int
	// RunTimeout is the deadline for one Run. Zero disables it.
	RunTimeout time.Duration
	// FuzzyThreshold is the minimum street match score (0-100).
	FuzzyThreshold float64
	// FallbackCity is used for addresses without a city.
	FallbackCity string
}

// Geocoder resolves normalized addresses. *geocode.Resolver implements it.
type Geocoder interface {
	Key(addr model.NormalizedAddress) string
	ResolveAll(ctx context.Context, addrs []model.NormalizedAddress) (map[string]model.GeocodeEntry, geocode.Tally, error)
	Retry(ctx context.Context, e resilience.RetryEntry) (model.GeocodeEntry, error)
}

// StreetReferences supplies the street cache entries fuzzy matching runs
// against. *geocache.Cache implements it.
type StreetReferences interface {
	Entries() []model.GeocodeEntry
}

// Pipeline enriches and reconciles one source batch at a time.
type Pipeline struct {
	cfg        Config
	store      store.Store
	sources    *Sources
	address    Geocoder
	street     Geocoder
	references StreetReferences
	classifier *geo.Classifier
	now        func() time.Time
}

// New creates a Pipeline. Geocoders, street references and the classifier
// are optional and set with the Set methods; a missing one skips its step.
func New(cfg Config, st store.Store, sources *Sources) *Pipeline {
	if cfg.FallbackCity == "" {
		cfg.FallbackCity = address.DefaultFallbackCity
	}
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		sources: sources,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetGeocoders sets the full-address (buy side) and street-only (rental
// side) geocoders.
func (p *Pipeline) SetGeocoders(fullAddress, streetOnly Geocoder) {
	p.address = fullAddress
	p.street = streetOnly
}

// SetStreetReferences sets the street cache used for fuzzy matching.
func (p *Pipeline) SetStreetReferences(r StreetReferences) {
	p.references = r
}

// SetClassifier sets the spatial classifier.
func (p *Pipeline) SetClassifier(c *geo.Classifier) {
	p.classifier = c
}

// Sources returns the sources the pipeline knows.
func (p *Pipeline) Sources() *Sources { return p.sources }

// Run processes records exported for source and replaces the source's
// snapshot with the reconciled result. The run is logged in the store when
// the backend supports it. The returned report is non-nil whenever the run
// got past source lookup, including on failure.
func (p *Pipeline) Run(ctx context.Context, source string, records []map[string]string) (*model.RunReport, error) {
	src, err := p.sources.Get(source)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("source", src.Name))

	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	runID, logged, err := p.startRun(ctx, src.Name)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", runID))
	log.Info("pipeline: starting run", zap.Int("records", len(records)))

	report := &model.RunReport{RunID: runID, Source: src.Name, Started: p.now()}
	runErr := p.run(ctx, src, records, report, log)
	report.Finished = p.now()

	// The run log is written even when the run deadline has passed.
	logCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		log.Error("pipeline: run failed", zap.Error(runErr))
		if logged {
			if failErr := p.store.FailRun(logCtx, runID, runErr); failErr != nil {
				log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
			}
		}
		return report, runErr
	}

	if logged {
		if err := p.store.CompleteRun(logCtx, runID, report); err != nil {
			return report, eris.Wrap(err, "pipeline: complete run")
		}
	}

	log.Info("pipeline: run complete",
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Int("geocoded", report.Geocoded),
		zap.Int("cache_hits", report.CacheHits),
		zap.Int("provider_calls", report.ProviderCalls),
		zap.Int("retryable", report.Retryable),
		zap.Int("fuzzy_matched", report.FuzzyMatched),
		zap.Int("new", report.New),
		zap.Int("active", report.Active),
		zap.Int("total", report.Total),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

// startRun creates the run record. Backends without a run log get a local
// id and logged=false.
func (p *Pipeline) startRun(ctx context.Context, source string) (string, bool, error) {
	run, err := p.store.CreateRun(ctx, source)
	if errors.Is(err, store.ErrUnsupported) {
		return uuid.NewString(), false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "pipeline: create run")
	}
	return run.ID, true, nil
}

func (p *Pipeline) run(ctx context.Context, src Source, records []map[string]string, report *model.RunReport, log *zap.Logger) error {
	a := src.Adapter

	batch, err := mapRecords(src, records, p.now())
	if err != nil {
		return err
	}
	for _, s := range batch.skipped {
		log.Warn("pipeline: skipped record", zap.Int("index", s.Index), zap.String("identity_key", s.IdentityKey), zap.String("reason", s.Reason))
	}
	rows := batch.rows

	if err := p.geocode(ctx, a.Pipeline(), rows, batch.cities, report); err != nil {
		return err
	}

	if a.Pipeline() == listing.KindRental && p.references != nil {
		m := fuzzy.NewMatcher(p.references.Entries(), p.cfg.FuzzyThreshold, fuzzy.WithCities(batch.cityNames(p.cfg.FallbackCity)...))
		if rows, report.FuzzyMatched, err = m.EnrichAll(ctx, rows, p.cfg.Concurrency); err != nil {
			return eris.Wrap(err, "pipeline: fuzzy enrich")
		}
	}

	if p.classifier != nil {
		if rows, err = p.classifier.ClassifyAll(ctx, rows, p.cfg.Concurrency); err != nil {
			return eris.Wrap(err, "pipeline: classify")
		}
	}
	for i := range rows {
		if rows[i].Neighborhood != nil {
			report.Classified++
		}
		if rows[i].InPreference {
			report.InPreference++
		}
	}

	old, err := p.store.LoadSnapshot(ctx, src.Name)
	if err != nil {
		return eris.Wrap(err, "pipeline: load snapshot")
	}
	res, err := reconcile.Reconcile(rows, old, a.Policy(), reconcile.Options{Malformed: src.Malformed})
	if err != nil {
		return eris.Wrap(err, "pipeline: reconcile")
	}
	for _, s := range res.Skipped {
		s.Index = batch.origin[s.Index]
		log.Warn("pipeline: skipped row", zap.Int("index", s.Index), zap.String("identity_key", s.IdentityKey), zap.String("reason", s.Reason))
		batch.skipped = append(batch.skipped, s)
	}

	if err := p.store.SaveSnapshot(ctx, res.Snapshot); err != nil {
		return eris.Wrap(err, "pipeline: save snapshot")
	}

	report.Ingested = len(rows) - len(res.Skipped)
	report.Skipped = len(batch.skipped)
	report.SkippedRows = batch.skipped
	report.New = res.New()
	report.Active = res.Active()
	report.Total = len(res.Snapshot.Rows)
	return nil
}

// mappedBatch is a batch of adapter output. cities and origin are parallel
// to rows: the raw city column and the index of the source record.
type mappedBatch struct {
	rows    []model.ListingSnapshotRow
	cities  []string
	origin  []int
	skipped []model.SkippedRow
}

// cityNames returns the distinct non-empty cities in the batch plus
// fallback.
func (b mappedBatch) cityNames(fallback string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range append(append([]string(nil), b.cities...), fallback) {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// mapRecords turns records into snapshot rows through the source's adapter.
// Malformed records are collected or fail the batch per src.Malformed.
func mapRecords(src Source, records []map[string]string, scrapedAt time.Time) (mappedBatch, error) {
	var b mappedBatch
	for i, rec := range records {
		raw, err := src.Adapter.Map(rec, scrapedAt)
		var row model.ListingSnapshotRow
		if err == nil {
			row, err = listing.ToRow(raw, src.Adapter)
		}
		if errors.Is(err, listing.ErrMalformed) {
			if src.Malformed != reconcile.MalformedSkip {
				return b, eris.Wrapf(reconcile.ErrMalformedBatch, "record %d: %v", i, err)
			}
			b.skipped = append(b.skipped, model.SkippedRow{Index: i, IdentityKey: row.IdentityKey, Reason: err.Error()})
			continue
		}
		if err != nil {
			return b, eris.Wrapf(err, "pipeline: map record %d", i)
		}
		b.rows = append(b.rows, row)
		b.cities = append(b.cities, raw.City)
		b.origin = append(b.origin, i)
	}
	return b, nil
}
