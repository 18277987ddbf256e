package catalogstore

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bunDB := bun.NewDB(db, pgdialect.New())
	return &Store{write: bunDB, read: bunDB}, mock
}

func TestCreateProject(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "project"`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := store.CreateProject(ctx, "analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", p.Name)
	assert.NotEmpty(t, p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectAlreadyExists(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "project"`).
		WillReturnError(&mockPgUniqueError{})

	_, err := store.CreateProject(ctx, "analytics")
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM "project"`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProject(ctx, "missing-id")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, clampPageSize(0))
	assert.Equal(t, MaxPageSize, clampPageSize(100000))
	assert.Equal(t, 50, clampPageSize(50))
}

func TestPageCursorRoundTrip(t *testing.T) {
	c := PageCursor{ID: "abc123"}
	encoded := c.Encode()
	require.NotEmpty(t, encoded)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, c.ID, decoded.ID)
}

type mockPgUniqueError struct{}

func (e *mockPgUniqueError) Error() string {
	return `duplicate key value violates unique constraint "project_name_key"`
}
