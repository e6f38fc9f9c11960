package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/woonradar/listings-cli/internal/geo"
	"github.com/woonradar/listings-cli/internal/geocache"
	"github.com/woonradar/listings-cli/internal/pipeline"
	"github.com/woonradar/listings-cli/internal/reconcile"
	"github.com/woonradar/listings-cli/internal/resilience"
	"github.com/woonradar/listings-cli/internal/store"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

// listingsEnv holds the store, caches, resolvers and pipeline needed by the
// run, geocode and serve commands.
type listingsEnv struct {
	Store       store.Store
	Pipeline    *pipeline.Pipeline
	StreetCache *geocache.Cache // may be nil
	AddrCache   *geocache.Cache // may be nil
	Street      *geocode.Resolver
	Address     *geocode.Resolver
}

// Close releases resources held by the environment.
func (e *listingsEnv) Close() {
	for _, c := range []*geocache.Cache{e.StreetCache, e.AddrCache} {
		if c != nil {
			_ = c.Close()
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// cache returns the cache for a key mode.
func (e *listingsEnv) cache(mode geocode.KeyMode) *geocache.Cache {
	if mode == geocode.StreetOnly {
		return e.StreetCache
	}
	return e.AddrCache
}

// resolver returns the resolver for a key mode.
func (e *listingsEnv) resolver(mode geocode.KeyMode) *geocode.Resolver {
	if mode == geocode.StreetOnly {
		return e.Street
	}
	return e.Address
}

// openStore validates cfg for mode, opens the store and migrates it.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store and both geocode caches, builds the resolvers
// behind one shared rate limiter, loads the geography and the source
// registry, and wires the pipeline. For runs the address cache is first
// seeded from cache.history_dir. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*listingsEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &listingsEnv{Store: st}

	if env.StreetCache, err = initCache(ctx, st, geocode.StreetOnly); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open street cache")
	}
	if env.AddrCache, err = initCache(ctx, st, geocode.FullAddress); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "open address cache")
	}
	if mode == "run" && cfg.Cache.HistoryDir != "" {
		n, err := env.AddrCache.SeedFromHistory(ctx, cfg.Cache.HistoryDir, cfg.Cache.HistoryPattern)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "seed address cache")
		}
		zap.L().Info("address cache seeded from history",
			zap.String("dir", cfg.Cache.HistoryDir), zap.Int("added", n))
	}

	provider := geocode.NewMapsCoProvider(cfg.Geocode.APIKey,
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithTimeout(time.Duration(cfg.Geocode.TimeoutSecs)*time.Second),
	)
	limiter := rate.NewLimiter(rate.Limit(cfg.Geocode.RatePerSec), 1)
	breaker := resilience.NewCircuitBreaker(resilience.FromCircuitConfig(cfg.Geocode.FailureThreshold, cfg.Geocode.ResetTimeoutSecs))
	retry := resilience.FromRetryConfig(cfg.Geocode.MaxAttempts, cfg.Geocode.InitialBackoffMs, cfg.Geocode.MaxBackoffMs)

	resolverOpts := func(mode geocode.KeyMode) []geocode.Option {
		opts := []geocode.Option{
			geocode.WithKeyMode(mode),
			geocode.WithLimiter(limiter),
			geocode.WithRetry(retry),
			geocode.WithCircuitBreaker(breaker),
			geocode.WithCountry(cfg.Geocode.Country),
			geocode.WithStreetNumberPrefix(cfg.Geocode.StreetNumberPrefix),
			geocode.WithMaxQueuedRetries(cfg.Geocode.MaxQueuedRetries),
		}
		// The CSV store has no retry queue.
		if _, ok := st.(*store.CSVStore); !ok {
			opts = append(opts, geocode.WithRetryQueue(st))
		}
		return opts
	}
	env.Street = geocode.NewResolver(env.StreetCache, provider, resolverOpts(geocode.StreetOnly)...)
	env.Address = geocode.NewResolver(env.AddrCache, provider, resolverOpts(geocode.FullAddress)...)

	malformed, err := reconcile.ParseMalformedPolicy(cfg.Pipeline.Malformed)
	if err != nil {
		env.Close()
		return nil, err
	}
	sources, err := pipeline.LoadSources(cfg.Sources.Path, malformed)
	if err != nil {
		env.Close()
		return nil, err
	}

	p := pipeline.New(pipeline.Config{
		Concurrency:    cfg.Pipeline.Concurrency,
		RunTimeout:     time.Duration(cfg.Pipeline.RunTimeoutMins) * time.Minute,
		FuzzyThreshold: cfg.Fuzzy.Threshold,
		FallbackCity:   cfg.Geocode.FallbackCity,
	}, st, sources)
	p.SetGeocoders(env.Address, env.Street)
	p.SetStreetReferences(env.StreetCache)

	classifier, err := initClassifier()
	if err != nil {
		env.Close()
		return nil, err
	}
	if classifier != nil {
		p.SetClassifier(classifier)
	}
	env.Pipeline = p

	zap.L().Info("pipeline ready",
		zap.Strings("sources", sources.Names()),
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Driver),
		zap.Int("street_cache", env.StreetCache.Len()),
		zap.Int("address_cache", env.AddrCache.Len()),
		zap.Bool("classifier", classifier != nil),
	)
	return env, nil
}

// initClassifier loads the configured polygon sets. It returns nil when no
// geography is configured.
func initClassifier() (*geo.Classifier, error) {
	g := cfg.Geography
	if g.NeighborhoodsPath == "" && g.PreferencesPath == "" {
		zap.L().Warn("no geography configured, spatial classification disabled")
		return nil, nil
	}

	var hoods, prefs *geo.PolygonSet
	var err error
	if g.NeighborhoodsPath != "" {
		if hoods, err = geo.Load(g.NeighborhoodsPath, g.NeighborhoodProperty); err != nil {
			return nil, eris.Wrap(err, "load neighborhoods")
		}
	}
	if g.PreferencesPath != "" {
		if prefs, err = geo.Load(g.PreferencesPath, g.PreferenceProperty); err != nil {
			return nil, eris.Wrap(err, "load preferences")
		}
	}
	return geo.NewClassifier(hoods, prefs), nil
}
