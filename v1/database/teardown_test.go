package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

// newMockDatabase builds a postgres Database on top of sqlmock.
func newMockDatabase(t *testing.T, opts ...Option) (*Database, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := NewWithDialector(Config{}, postgres.New(postgres.Config{Conn: conn}), nopLogger{}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return db, mock
}

func TestMockDatabaseCapabilities(t *testing.T) {
	db, _ := newMockDatabase(t)

	caps := db.Capabilities()
	assert.Equal(t, DialectPostgres, caps.Dialect)
	assert.True(t, caps.SupportsReturning)
	assert.Equal(t, InsertPostgres, caps.InsertVariant)
}

func TestReleaseCommitFailure(t *testing.T) {
	db, mock := newMockDatabase(t)
	commitErr := errors.New("could not serialize access")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO widgets").WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(commitErr)

	ctx, scoped, err := db.EnterScope(context.Background())
	require.NoError(t, err)

	_, err = db.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "a")
	require.NoError(t, err)

	err = scoped.Release(OutcomeCommit)
	var teardownErr *SessionTeardownError
	require.ErrorAs(t, err, &teardownErr)
	assert.Equal(t, "commit", teardownErr.Op)
	assert.ErrorIs(t, err, commitErr)

	assert.False(t, db.InScope(ctx))
	assert.True(t, scoped.Session().Closed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseRollbackFailure(t *testing.T) {
	db, mock := newMockDatabase(t)
	rollbackErr := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM widgets").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback().WillReturnError(rollbackErr)

	ctx, scoped, err := db.EnterScope(context.Background())
	require.NoError(t, err)

	rows, err := db.Exec(ctx, "DELETE FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	err = scoped.Release(OutcomeRollback)
	var teardownErr *SessionTeardownError
	require.ErrorAs(t, err, &teardownErr)
	assert.Equal(t, "rollback", teardownErr.Op)
	assert.ErrorIs(t, err, rollbackErr)

	assert.False(t, db.InScope(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNestedSavepointStatements(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx, scoped, err := db.EnterScope(context.Background())
	require.NoError(t, err)

	nested, err := db.BeginNested(ctx)
	require.NoError(t, err)
	require.NoError(t, nested.Rollback(ctx))

	nested, err = db.BeginNested(ctx)
	require.NoError(t, err)
	require.NoError(t, nested.Commit(ctx))

	require.NoError(t, scoped.Release(OutcomeCommit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointFailure(t *testing.T) {
	db, mock := newMockDatabase(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnError(errors.New("current transaction is aborted"))
	mock.ExpectRollback()

	ctx, scoped, err := db.EnterScope(context.Background())
	require.NoError(t, err)

	_, err = db.BeginNested(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sp_1")

	require.NoError(t, scoped.Release(OutcomeRollback))
	assert.NoError(t, mock.ExpectationsWereMet())
}
