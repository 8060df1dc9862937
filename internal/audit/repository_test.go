package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return NewRepository(db), mock
}

func TestRepository_RecordStoresNullForAnonymousActor(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), nil, "LOGIN", "User alice logged in", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "LOGOUT", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), "", ActionLogin, "User alice logged in"))
	require.NoError(t, repo.Record(context.Background(), "user-1", ActionLogout, ""))
}

func TestRepository_RecordWrapsFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("boom"))

	err := repo.Record(context.Background(), "user-1", ActionLogin, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit log")
}

func TestRepository_ListClampsLimit(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "details", "created_at"}).
		AddRow("a1", "user-1", "LOGIN", "User alice logged in", at).
		AddRow("a2", nil, "USER_REGISTERED", "New user bob registered successfully", at.Add(-time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).WithArgs(maxListLimit).WillReturnRows(rows)

	entries, err := repo.List(context.Background(), 5000)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].UserID)
	assert.Equal(t, "user-1", *entries[0].UserID)
	assert.Equal(t, ActionLogin, entries[0].Action)
	assert.Nil(t, entries[1].UserID)
}

func TestRepository_ListDefaultsLimit(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "details", "created_at"}))

	entries, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestRepository_DeleteOlderThan(t *testing.T) {
	repo, mock := newMockRepository(t)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("WITH stale AS").
		WithArgs(cutoff, 500).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
}
