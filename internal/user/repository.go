package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"employee-records/internal/auth"
)

const selectColumns = `id, username, email, password_hash, role, active, created_at, updated_at`

// Repository is the Postgres user-store.
type Repository struct {
	db *sql.DB
}

type UpdateInput struct {
	Username string
	Email    string
	Role     auth.Role
}

type rowScanner interface {
	Scan(dest ...any) error
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE username = $1`, username)
	return scanCredential(row, "query user by username")
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE email = $1`, email)
	return scanCredential(row, "query user by email")
}

func (r *Repository) FindByID(ctx context.Context, id string) (auth.Credential, error) {
	if _, err := uuid.Parse(id); err != nil {
		return auth.Credential{}, auth.ErrUserNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id)
	return scanCredential(row, "query user by id")
}

func (r *Repository) List(ctx context.Context) ([]auth.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]auth.Credential, 0)
	for rows.Next() {
		cred, err := scanCredential(rows, "scan user")
		if err != nil {
			return nil, err
		}
		users = append(users, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *Repository) Create(ctx context.Context, input auth.NewCredential) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}

	role := input.Role
	if role == "" {
		role = auth.RoleUser
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
	`, id.String(), input.Username, input.Email, input.PasswordHash, string(role), now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", auth.ErrUserExists
		}
		return "", fmt.Errorf("insert user: %w", err)
	}

	return id.String(), nil
}

func (r *Repository) Update(ctx context.Context, id string, input UpdateInput) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, role = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+selectColumns, id, input.Username, input.Email, string(input.Role), time.Now().UTC())

	cred, err := scanCredential(row, "update user")
	if err != nil && isUniqueViolation(err) {
		return auth.Credential{}, auth.ErrUserExists
	}
	return cred, err
}

// UpdateProfile changes the self-service fields and leaves role alone.
func (r *Repository) UpdateProfile(ctx context.Context, id, username, email string) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+selectColumns, id, username, email, time.Now().UTC())

	cred, err := scanCredential(row, "update profile")
	if err != nil && isUniqueViolation(err) {
		return auth.Credential{}, auth.ErrUserExists
	}
	return cred, err
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool) (auth.Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET active = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+selectColumns, id, active, time.Now().UTC())
	return scanCredential(row, "set user active")
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res)
}

// EnsureAdmin creates the bootstrap admin only when no admin exists yet.
func (r *Repository) EnsureAdmin(ctx context.Context, input auth.NewCredential) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var admins int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = $1`, string(auth.RoleAdmin)).Scan(&admins); err != nil {
		return false, fmt.Errorf("count admin users: %w", err)
	}
	if admins > 0 {
		return false, tx.Commit()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
	`, id.String(), input.Username, input.Email, input.PasswordHash, string(auth.RoleAdmin), now); err != nil {
		if isUniqueViolation(err) {
			return false, auth.ErrUserExists
		}
		return false, fmt.Errorf("insert admin user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	return true, nil
}

func scanCredential(row rowScanner, op string) (auth.Credential, error) {
	var cred auth.Credential
	var role string
	err := row.Scan(&cred.ID, &cred.Username, &cred.Email, &cred.PasswordHash, &role, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Credential{}, auth.ErrUserNotFound
		}
		return auth.Credential{}, fmt.Errorf("%s: %w", op, err)
	}
	cred.Role = auth.Role(role)
	return cred, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
