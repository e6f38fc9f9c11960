package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	source         TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	identity_key   TEXT    NOT NULL,
	address_full   TEXT    NOT NULL DEFAULT '',
	street         TEXT    NOT NULL DEFAULT '',
	price          REAL    NOT NULL DEFAULT 0,
	area           REAL    NOT NULL DEFAULT 0,
	price_per_area REAL    NOT NULL DEFAULT 0,
	is_available   INTEGER NOT NULL DEFAULT 0,
	is_new         INTEGER NOT NULL DEFAULT 0,
	is_active      INTEGER,
	note           TEXT,
	date_scraped   DATETIME NOT NULL,
	link           TEXT    NOT NULL DEFAULT '',
	available_from TEXT    NOT NULL DEFAULT '',
	source_name    TEXT    NOT NULL DEFAULT '',
	neighborhood   TEXT,
	latitude       REAL,
	longitude      REAL,
	in_preference  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, identity_key, seq)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_source ON snapshots(source, seq);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_geocode_retry_key ON geocode_retry(cache_key);
`

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadSnapshot implements Store. Rows come back in saved order.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, source string) (model.SourceSnapshot, error) {
	snap := model.SourceSnapshot{Source: source}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(snapshotColumns, ", ")+` FROM snapshots WHERE source = ? ORDER BY seq`,
		source,
	)
	if err != nil {
		return snap, eris.Wrapf(err, "sqlite: load snapshot %s", source)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			r           model.ListingSnapshotRow
			active      sql.NullBool
			note, hood  sql.NullString
			lat, lon    sql.NullFloat64
			dateScraped time.Time
		)
		if err := rows.Scan(
			&r.IdentityKey, &r.Address, &r.Street, &r.Price, &r.Area, &r.PricePerArea,
			&r.IsAvailable, &r.IsNew, &active, &note, &dateScraped, &r.Link,
			&r.AvailableFrom, &r.SourceName, &hood, &lat, &lon, &r.InPreference,
		); err != nil {
			return snap, eris.Wrapf(err, "sqlite: scan snapshot %s", source)
		}
		if active.Valid {
			r.IsActive = model.Bool(active.Bool)
		}
		r.Note = nullString(note)
		r.Neighborhood = nullString(hood)
		r.Latitude = nullFloat(lat)
		r.Longitude = nullFloat(lon)
		r.DateScraped = dateScraped.UTC()
		snap.Rows = append(snap.Rows, r)
	}
	return snap, eris.Wrapf(rows.Err(), "sqlite: iterate snapshot %s", source)
}

// SaveSnapshot implements Store. The delete and inserts share one
// transaction, so readers see either the old or the new table.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.SourceSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE source = ?`, snap.Source); err != nil {
		return eris.Wrapf(err, "sqlite: clear snapshot %s", snap.Source)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(snapshotColumns)+2), ", ")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots (source, seq, `+strings.Join(snapshotColumns, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range snap.Rows {
		args := append([]any{snap.Source, i}, snapshotValues(r)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot row %d of %s", i, snap.Source)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit snapshot %s", snap.Source)
}

// ListSources implements Store.
func (s *SQLiteStore) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM snapshots ORDER BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// CreateRun implements Store. The run starts in the running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun implements Store.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		runError(runErr), string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, report, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return r, err
}

// ListRuns implements Store. Newest runs come first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source, status, report, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 100))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// EnqueueRetry implements Store. An entry with a known id is updated in
// place.
func (s *SQLiteStore) EnqueueRetry(ctx context.Context, e resilience.RetryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO geocode_retry
		 (id, cache_key, key_mode, query, error, error_type, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, last_failed_at = excluded.last_failed_at`,
		e.ID, e.CacheKey, e.KeyMode, e.Query, e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.CreatedAt.UTC(), e.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue retry")
}

// ListRetries implements Store. Oldest failures come first.
func (s *SQLiteStore) ListRetries(ctx context.Context, limit int) ([]resilience.RetryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cache_key, key_mode, query, error, error_type, retry_count, max_retries, created_at, last_failed_at
		 FROM geocode_retry ORDER BY last_failed_at ASC LIMIT ?`,
		limitOr(limit, 100),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list retries")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.RetryEntry
	for rows.Next() {
		var e resilience.RetryEntry
		if err := rows.Scan(&e.ID, &e.CacheKey, &e.KeyMode, &e.Query, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan retry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list retries iterate")
}

// DeleteRetry implements Store.
func (s *SQLiteStore) DeleteRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM geocode_retry WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete retry %s", id)
	}
	return checkRowsAffected(res, "retry", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.Status, &reportJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if reportJSON.Valid && reportJSON.String != "" {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
