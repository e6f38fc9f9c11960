package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonradar/listings-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_SaveSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	snap := sampleSnapshot("vesteda")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM snapshots WHERE source = $1`)).
		WithArgs("vesteda").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"snapshots"}, append([]string{"source", "seq"}, snapshotColumns...)).
		WillReturnResult(int64(len(snap.Rows)))
	mock.ExpectCommit()

	require.NoError(t, s.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSnapshotRollsBackOnCopyError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM snapshots`)).
		WithArgs("vesteda").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"snapshots"}, append([]string{"source", "seq"}, snapshotColumns...)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.SaveSnapshot(context.Background(), sampleSnapshot("vesteda"))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadSnapshot(t *testing.T) {
	s, mock := newMockStore(t)

	rows := pgxmock.NewRows(snapshotColumns).
		AddRow("https://x/1", "Van Hallstraat 12", "Van Hallstraat", 1250.0, 85.0, 1250.0/85.0,
			true, false, model.Bool(true), model.String("nieuw"), scrapedAt, "https://x/1",
			"", "vesteda", model.String("Staatsliedenbuurt"), model.Float(52.38), model.Float(4.87), true).
		AddRow("https://x/2", "Kinkerstraat 5", "Kinkerstraat", 990.0, 0.0, 0.0,
			false, true, (*bool)(nil), (*string)(nil), scrapedAt, "https://x/2",
			"01-09-2025", "vesteda", (*string)(nil), (*float64)(nil), (*float64)(nil), false)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM snapshots WHERE source = $1 ORDER BY seq`)).
		WithArgs("vesteda").
		WillReturnRows(rows)

	snap, err := s.LoadSnapshot(context.Background(), "vesteda")
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "Staatsliedenbuurt", model.Deref(snap.Rows[0].Neighborhood))
	assert.True(t, *snap.Rows[0].IsActive)
	assert.Nil(t, snap.Rows[1].IsActive)
	assert.Nil(t, snap.Rows[1].Latitude)
	assert.Equal(t, "01-09-2025", snap.Rows[1].AvailableFrom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM runs WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET report = $1`)).
		WithArgs(pgxmock.AnyArg(), string(model.RunStatusComplete), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", &model.RunReport{Source: "vesteda"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRetry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM geocode_retry WHERE id = $1`)).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM geocode_retry WHERE id = $1`)).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteRetry(context.Background(), "r1"))
	assert.ErrorIs(t, s.DeleteRetry(context.Background(), "r1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSources(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT source FROM snapshots`)).
		WillReturnRows(pgxmock.NewRows([]string{"source"}).AddRow("bouwinvest").AddRow("vesteda"))

	got, err := s.ListSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bouwinvest", "vesteda"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
