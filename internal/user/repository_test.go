package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"employee-records/internal/auth"
)

var userColumns = []string{"id", "username", "email", "password_hash", "role", "active", "created_at", "updated_at"}

const aliceID = "0190f7a8-1111-7000-8000-000000000001"

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

func aliceRow() *sqlmock.Rows {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows(userColumns).AddRow(aliceID, "alice", "alice@example.com", "$2a$04$hash", "hr", true, at, at)
}

func TestRepository_FindByUsername(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE username = $1")).WithArgs("alice").WillReturnRows(aliceRow())

	cred, err := repo.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, cred.ID)
	assert.Equal(t, auth.RoleHR, cred.Role)
	assert.True(t, cred.Active)
	assert.Equal(t, "$2a$04$hash", cred.PasswordHash)
}

func TestRepository_FindMissingReturnsNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).WithArgs("ghost@example.com").WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.FindByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRepository_FindByIDRejectsNonUUIDWithoutQuery(t *testing.T) {
	repo, _ := newMockRepository(t)

	_, err := repo.FindByID(context.Background(), "42")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRepository_CreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", "hash", "user", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	_, err := repo.Create(context.Background(), auth.NewCredential{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	})
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "bob", "bob@example.com", "hash", "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.Create(context.Background(), auth.NewCredential{
		Username:     "bob",
		Email:        "bob@example.com",
		PasswordHash: "hash",
		Role:         auth.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestRepository_SetActive(t *testing.T) {
	repo, mock := newMockRepository(t)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("UPDATE users").
		WithArgs(aliceID, false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(aliceID, "alice", "alice@example.com", "h", "user", false, at, at))

	cred, err := repo.SetActive(context.Background(), aliceID, false)
	require.NoError(t, err)
	assert.False(t, cred.Active)
}

func TestRepository_UpdateProfileKeepsRole(t *testing.T) {
	repo, mock := newMockRepository(t)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SET username = $2, email = $3, updated_at = $4")).
		WithArgs(aliceID, "alice2", "alice2@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(aliceID, "alice2", "alice2@example.com", "h", "hr", true, at, at))

	cred, err := repo.UpdateProfile(context.Background(), aliceID, "alice2", "alice2@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice2", cred.Username)
	assert.Equal(t, auth.RoleHR, cred.Role)
}

func TestRepository_UpdateProfileMapsUniqueViolation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("UPDATE users").
		WithArgs(aliceID, "bob", "alice@example.com", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	_, err := repo.UpdateProfile(context.Background(), aliceID, "bob", "alice@example.com")
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestRepository_DeleteMissingReturnsNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM users").WithArgs(aliceID).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), aliceID)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRepository_EnsureAdminSkipsWhenAdminExists(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	created, err := repo.EnsureAdmin(context.Background(), auth.NewCredential{Username: "root", Email: "root@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRepository_EnsureAdminCreatesFirstAdmin(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "root", "root@example.com", "h", "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.EnsureAdmin(context.Background(), auth.NewCredential{Username: "root", Email: "root@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.True(t, created)
}
