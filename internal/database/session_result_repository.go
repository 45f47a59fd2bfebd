package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/pkg/models"
)

// SessionResultRepository records finished practice sessions
type SessionResultRepository struct {
	db *sqlx.DB
}

// NewSessionResultRepository creates a new repository instance
func NewSessionResultRepository(db *sqlx.DB) *SessionResultRepository {
	return &SessionResultRepository{db: db}
}

// Create inserts a session result, assigning an id if it has none
func (r *SessionResultRepository) Create(ctx context.Context, result *models.SessionResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	row := *result
	row.StartedAt = row.StartedAt.UTC()
	row.FinishedAt = row.FinishedAt.UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO session_results (id, user_id, category, total, answered, correct, started_at, finished_at)
		VALUES (:id, :user_id, :category, :total, :answered, :correct, :started_at, :finished_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to create session result: %w", err)
	}
	return nil
}

// ListByUser returns a user's most recent results first. A limit of zero or less returns all of them.
func (r *SessionResultRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionResult, error) {
	query := `
		SELECT id, user_id, category, total, answered, correct, started_at, finished_at
		FROM session_results WHERE user_id = ?
		ORDER BY finished_at DESC, id
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var results []models.SessionResult
	if err := r.db.SelectContext(ctx, &results, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get session results: %w", err)
	}
	return results, nil
}
