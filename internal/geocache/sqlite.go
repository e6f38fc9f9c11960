package geocache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/woonradar/listings-cli/internal/db"
	"github.com/woonradar/listings-cli/internal/model"
)

// SQLiteBackend stores entries in one SQLite table with the key column as
// primary key, so every write is an atomic upsert.
type SQLiteBackend struct {
	db        *sql.DB
	table     string
	keyColumn string
}

// NewSQLiteBackend opens dsn and creates table if needed. keyColumn is the
// name of the key column ("street" or "full_address_processed").
func NewSQLiteBackend(ctx context.Context, dsn, table, keyColumn string) (*SQLiteBackend, error) {
	if !db.ValidIdentifier(table) || !db.ValidIdentifier(keyColumn) {
		return nil, eris.Errorf("geocache: invalid table %q or key column %q", table, keyColumn)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "geocache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			_ = sqlDB.Close()
			return nil, eris.Wrapf(err, "geocache: sqlite exec %s", pragma)
		}
	}

	b := &SQLiteBackend{db: sqlDB, table: table, keyColumn: keyColumn}
	if err := b.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	%s           TEXT PRIMARY KEY COLLATE NOCASE,
	latitude     REAL,
	longitude    REAL,
	neighborhood TEXT,
	district     TEXT,
	city         TEXT,
	postcode     TEXT,
	display_name TEXT,
	date_updated DATETIME NOT NULL
)`, b.table, b.keyColumn))
	return eris.Wrapf(err, "geocache: migrate %s", b.table)
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context) ([]model.GeocodeEntry, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s, latitude, longitude, neighborhood, district, city, postcode, display_name, date_updated
		 FROM %s ORDER BY rowid`, b.keyColumn, b.table))
	if err != nil {
		return nil, eris.Wrapf(err, "geocache: query %s", b.table)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GeocodeEntry
	for rows.Next() {
		var (
			e                                               model.GeocodeEntry
			lat, lon                                        sql.NullFloat64
			neighborhood, district, city, postcode, display sql.NullString
			updated                                         time.Time
		)
		if err := rows.Scan(&e.Key, &lat, &lon, &neighborhood, &district, &city, &postcode, &display, &updated); err != nil {
			return nil, eris.Wrapf(err, "geocache: scan %s", b.table)
		}
		e.Latitude = nullFloat(lat)
		e.Longitude = nullFloat(lon)
		e.Neighborhood = nullString(neighborhood)
		e.District = nullString(district)
		e.City = nullString(city)
		e.Postcode = nullString(postcode)
		e.DisplayName = nullString(display)
		e.UpdatedAt = updated
		out = append(out, e)
	}
	return out, eris.Wrapf(rows.Err(), "geocache: iterate %s", b.table)
}

// Upsert implements Backend.
func (b *SQLiteBackend) Upsert(ctx context.Context, e model.GeocodeEntry) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %[1]s (%[2]s, latitude, longitude, neighborhood, district, city, postcode, display_name, date_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (%[2]s) DO UPDATE SET
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	neighborhood = excluded.neighborhood,
	district = excluded.district,
	city = excluded.city,
	postcode = excluded.postcode,
	display_name = excluded.display_name,
	date_updated = excluded.date_updated`, b.table, b.keyColumn),
		e.Key, e.Latitude, e.Longitude, e.Neighborhood, e.District, e.City, e.Postcode, e.DisplayName, updatedAt(e),
	)
	return eris.Wrapf(err, "geocache: upsert %q", e.Key)
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, b.table, b.keyColumn), key)
	return eris.Wrapf(err, "geocache: delete %q", key)
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func updatedAt(e model.GeocodeEntry) time.Time {
	if e.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return e.UpdatedAt.UTC()
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
