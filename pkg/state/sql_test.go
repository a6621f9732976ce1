package state

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
)

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "db", "roster.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	runSnapshotContract(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "roster.db")

	store, err := OpenSQLStore(DialectSQLite, path, "agents")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleAgents()))
	require.NoError(t, store.Close(ctx))

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, rerrors.ErrStoreClosed)

	reopened, err := OpenSQLStore(DialectSQLite, path, "agents")
	require.NoError(t, err)
	defer reopened.Close(ctx)

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleAgents(), loaded)
}

func newMockPostgresStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS snapshots")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewSQLStore(context.Background(), db, DialectPostgres, "")
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStoreLoad(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM snapshots WHERE slot = $1")).
		WithArgs("agents").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`[{"id":"a1","name":"Jane Doe","email":"jane@example.com","status":"Active"}]`)))

	agents, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Jane Doe", agents[0].Name)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM snapshots WHERE slot = $1")).
		WithArgs("agents").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, rerrors.ErrSnapshotMissing)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM snapshots")).
		WillReturnError(errors.New("connection reset"))

	_, err = store.Load(ctx)
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSave(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(DialectPostgres.upsert())).
		WithArgs("agents", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(ctx, sampleAgents()))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO snapshots")).
		WillReturnError(errors.New("disk full"))

	assert.ErrorContains(t, store.Save(ctx, sampleAgents()), "persist snapshot")

	mock.ExpectClose()
	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	_, err = NewSQLStore(context.Background(), db, DialectPostgres, "agents")
	assert.ErrorContains(t, err, "create snapshots table")
}

func TestDialectPlaceholders(t *testing.T) {
	assert.Contains(t, DialectSQLite.upsert(), "VALUES (?, ?, ?)")
	assert.Contains(t, DialectPostgres.upsert(), "VALUES ($1, $2, $3)")
	assert.Contains(t, DialectPostgres.createTable(), "BYTEA")
}
