package geocache

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonradar/listings-cli/internal/model"
)

func TestPostgresBackend_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewPostgresBackend(mock, "geocoded_streets", "street")
	require.NoError(t, err)

	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"street", "latitude", "longitude", "neighborhood", "district", "city", "postcode", "display_name", "date_updated"}).
		AddRow("Van Hallstraat Amsterdam", model.Float(52.38), model.Float(4.88), model.String("Staatsliedenbuurt"),
			(*string)(nil), model.String("Amsterdam"), (*string)(nil), (*string)(nil), updated)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "geocoded_streets"`)).WillReturnRows(rows)

	got, err := b.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Van Hallstraat Amsterdam", got[0].Key)
	assert.InDelta(t, 52.38, *got[0].Latitude, 1e-9)
	assert.Nil(t, got[0].District)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewPostgresBackend(mock, "geocoded_addresses", "full_address_processed")
	require.NoError(t, err)

	e := entry("Damstraat 2 Amsterdam", 52.37, 4.89, "Burgwallen")
	e.UpdatedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "geocoded_addresses"`)).
		WithArgs(e.Key, e.Latitude, e.Longitude, e.Neighborhood, e.District, e.City, e.Postcode, e.DisplayName, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, b.Upsert(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_MigrateAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewPostgresBackend(mock, "cache.geocoded_streets", "street")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "cache"."geocoded_streets"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "cache"."geocoded_streets"`)).
		WithArgs("Damstraat Amsterdam").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, b.Migrate(context.Background()))
	require.NoError(t, b.Delete(context.Background(), "Damstraat Amsterdam"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresBackend_InvalidIdentifier(t *testing.T) {
	_, err := NewPostgresBackend(nil, "bad name", "street")
	assert.Error(t, err)
}
