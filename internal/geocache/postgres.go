package geocache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/woonradar/listings-cli/internal/db"
	"github.com/woonradar/listings-cli/internal/model"
)

var entryColumns = []string{
	"latitude", "longitude", "neighborhood", "district",
	"city", "postcode", "display_name", "date_updated",
}

// PostgresBackend stores entries in a Postgres table keyed by keyColumn.
type PostgresBackend struct {
	pool      db.Pool
	table     string
	keyColumn string
	upsertSQL string
}

// NewPostgresBackend returns a backend over pool. Call Migrate to create
// the table.
func NewPostgresBackend(pool db.Pool, table, keyColumn string) (*PostgresBackend, error) {
	if !db.ValidIdentifier(table) || !db.ValidIdentifier(keyColumn) {
		return nil, eris.Errorf("geocache: invalid table %q or key column %q", table, keyColumn)
	}
	upsert, err := db.UpsertSQL(db.UpsertConfig{
		Table:        table,
		Columns:      append([]string{keyColumn}, entryColumns...),
		ConflictKeys: []string{keyColumn},
	})
	if err != nil {
		return nil, eris.Wrap(err, "geocache: build upsert")
	}
	return &PostgresBackend{pool: pool, table: table, keyColumn: keyColumn, upsertSQL: upsert}, nil
}

// Migrate creates the cache table if it does not exist.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s           TEXT PRIMARY KEY,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	neighborhood TEXT,
	district     TEXT,
	city         TEXT,
	postcode     TEXT,
	display_name TEXT,
	date_updated TIMESTAMPTZ NOT NULL DEFAULT now()
)`, db.SanitizeTable(b.table), pgx.Identifier{b.keyColumn}.Sanitize()))
	return eris.Wrapf(err, "geocache: migrate %s", b.table)
}

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context) ([]model.GeocodeEntry, error) {
	rows, err := b.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s, latitude, longitude, neighborhood, district, city, postcode, display_name, date_updated
		 FROM %s ORDER BY date_updated`,
		pgx.Identifier{b.keyColumn}.Sanitize(), db.SanitizeTable(b.table)))
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: query %s", b.table)
	}
	defer rows.Close()

	var out []model.GeocodeEntry
	for rows.Next() {
		var e model.GeocodeEntry
		if err := rows.Scan(&e.Key, &e.Latitude, &e.Longitude, &e.Neighborhood, &e.District,
			&e.City, &e.Postcode, &e.DisplayName, &e.UpdatedAt); err != nil {
			return nil, eris.Wrapf(err, "geocache: scan %s", b.table)
		}
		out = append(out, e)
	}
	return out, eris.Wrapf(rows.Err(), "geocache: iterate %s", b.table)
}

// Upsert implements Backend.
func (b *PostgresBackend) Upsert(ctx context.Context, e model.GeocodeEntry) error {
	_, err := b.pool.Exec(ctx, b.upsertSQL,
		e.Key, e.Latitude, e.Longitude, e.Neighborhood, e.District,
		e.City, e.Postcode, e.DisplayName, updatedAt(e),
	)
	return eris.Wrapf(err, "geocache: upsert %q", e.Key)
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE lower(%s) = lower($1)`,
		db.SanitizeTable(b.table), pgx.Identifier{b.keyColumn}.Sanitize()), key)
	return eris.Wrapf(err, "geocache: delete %q", key)
}

// Close implements Backend. The pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }
