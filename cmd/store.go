package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/geocache"
	"github.com/woonradar/listings-cli/internal/store"
	"github.com/woonradar/listings-cli/pkg/geocode"
)

const (
	sqliteFile      = "listings.db"
	geocodeFile     = "geocode.db"
	snapshotsSubdir = "snapshots"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
				return nil, eris.Wrap(err, "create data dir")
			}
			dsn = filepath.Join(cfg.Store.DataDir, sqliteFile)
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "csv":
		return store.NewCSV(filepath.Join(cfg.Store.DataDir, snapshotsSubdir))
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// cacheKeyColumn names the key column of each cache table.
func cacheKeyColumn(mode geocode.KeyMode) string {
	if mode == geocode.StreetOnly {
		return "street"
	}
	return "full_address_processed"
}

func cacheTable(mode geocode.KeyMode) string {
	if mode == geocode.StreetOnly {
		return cfg.Cache.StreetTable
	}
	return cfg.Cache.AddressTable
}

// initCache opens the geocode cache for one key mode on the configured
// cache driver. The Postgres driver shares the store's pool.
func initCache(ctx context.Context, st store.Store, mode geocode.KeyMode) (*geocache.Cache, error) {
	table, keyCol := cacheTable(mode), cacheKeyColumn(mode)

	var backend geocache.Backend
	switch cfg.Cache.Driver {
	case "sqlite":
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "create data dir")
		}
		b, err := geocache.NewSQLiteBackend(ctx, filepath.Join(cfg.Store.DataDir, geocodeFile), table, keyCol)
		if err != nil {
			return nil, err
		}
		backend = b
	case "csv":
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "create data dir")
		}
		b, err := geocache.NewCSVBackend(filepath.Join(cfg.Store.DataDir, table+".csv"), keyCol)
		if err != nil {
			return nil, err
		}
		backend = b
	case "postgres":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("cache driver postgres requires store driver postgres")
		}
		b, err := geocache.NewPostgresBackend(ps.Pool(), table, keyCol)
		if err != nil {
			return nil, err
		}
		if err := b.Migrate(ctx); err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}

	c, err := geocache.Open(ctx, table, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return c, nil
}
