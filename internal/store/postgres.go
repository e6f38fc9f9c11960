package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/db"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool, shared with the geocode cache.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	source         TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	identity_key   TEXT    NOT NULL,
	address_full   TEXT    NOT NULL DEFAULT '',
	street         TEXT    NOT NULL DEFAULT '',
	price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	area           DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_per_area DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_available   BOOLEAN NOT NULL DEFAULT false,
	is_new         BOOLEAN NOT NULL DEFAULT false,
	is_active      BOOLEAN,
	note           TEXT,
	date_scraped   TIMESTAMPTZ NOT NULL,
	link           TEXT    NOT NULL DEFAULT '',
	available_from TEXT    NOT NULL DEFAULT '',
	source_name    TEXT    NOT NULL DEFAULT '',
	neighborhood   TEXT,
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	in_preference  BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (source, identity_key, seq)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_retry (
	id             TEXT PRIMARY KEY,
	cache_key      TEXT NOT NULL,
	key_mode       TEXT NOT NULL,
	query          TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	last_failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_source ON snapshots(source, seq);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_geocode_retry_key ON geocode_retry(cache_key);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate implements Store.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// LoadSnapshot implements Store.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, source string) (model.SourceSnapshot, error) {
	snap := model.SourceSnapshot{Source: source}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(snapshotColumns, ", ")+` FROM snapshots WHERE source = $1 ORDER BY seq`,
		source,
	)
	if err != nil {
		return snap, eris.Wrapf(err, "postgres: load snapshot %s", source)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.ListingSnapshotRow
		if err := rows.Scan(
			&r.IdentityKey, &r.Address, &r.Street, &r.Price, &r.Area, &r.PricePerArea,
			&r.IsAvailable, &r.IsNew, &r.IsActive, &r.Note, &r.DateScraped, &r.Link,
			&r.AvailableFrom, &r.SourceName, &r.Neighborhood, &r.Latitude, &r.Longitude, &r.InPreference,
		); err != nil {
			return snap, eris.Wrapf(err, "postgres: scan snapshot %s", source)
		}
		r.DateScraped = r.DateScraped.UTC()
		snap.Rows = append(snap.Rows, r)
	}
	return snap, eris.Wrapf(rows.Err(), "postgres: iterate snapshot %s", source)
}

// SaveSnapshot implements Store. Rows are bulk-loaded with COPY inside the
// transaction that clears the source.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.SourceSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE source = $1`, snap.Source); err != nil {
		return eris.Wrapf(err, "postgres: clear snapshot %s", snap.Source)
	}

	cols := append([]string{"source", "seq"}, snapshotColumns...)
	rows := make([][]any, len(snap.Rows))
	for i, r := range snap.Rows {
		rows[i] = append([]any{snap.Source, int32(i)}, snapshotValues(r)...)
	}
	if _, err := db.CopyFrom(ctx, tx, "snapshots", cols, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy snapshot %s", snap.Source)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit snapshot %s", snap.Source)
}

// ListSources implements Store.
func (s *PostgresStore) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT source FROM snapshots ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

// CreateRun implements Store.
func (s *PostgresStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, source, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CompleteRun implements Store.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

// FailRun implements Store.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		runError(runErr), string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

// GetRun implements Store.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, source, status, report, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, report, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, 100))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// EnqueueRetry implements Store.
func (s *PostgresStore) EnqueueRetry(ctx context.Context, e resilience.RetryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO geocode_retry
		 (id, cache_key, key_mode, query, error, error_type, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7, last_failed_at = $10`,
		e.ID, e.CacheKey, e.KeyMode, e.Query, e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue retry")
}

// ListRetries implements Store.
func (s *PostgresStore) ListRetries(ctx context.Context, limit int) ([]resilience.RetryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cache_key, key_mode, query, error, error_type, retry_count, max_retries, created_at, last_failed_at
		 FROM geocode_retry ORDER BY last_failed_at ASC LIMIT $1`,
		limitOr(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list retries")
	}
	defer rows.Close()

	var out []resilience.RetryEntry
	for rows.Next() {
		var e resilience.RetryEntry
		if err := rows.Scan(&e.ID, &e.CacheKey, &e.KeyMode, &e.Query, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan retry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list retries iterate")
}

// DeleteRetry implements Store.
func (s *PostgresStore) DeleteRetry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM geocode_retry WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "retry %s", id)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var reportJSON *[]byte

	if err := row.Scan(&r.ID, &r.Source, &r.Status, &reportJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if reportJSON != nil {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(*reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}
