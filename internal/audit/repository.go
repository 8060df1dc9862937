package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record appends one entry. An empty userID is stored as NULL.
func (r *Repository) Record(ctx context.Context, userID string, action Action, details string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate audit id: %w", err)
	}

	var actor any
	if userID != "" {
		actor = userID
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), actor, string(action), details, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action, details, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var userID sql.NullString
		var action string
		if err := rows.Scan(&e.ID, &userID, &action, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if userID.Valid {
			value := userID.String
			e.UserID = &value
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return entries, nil
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM audit_logs
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM audit_logs t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale audit logs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale audit logs rows affected: %w", err)
	}

	return affected, nil
}
