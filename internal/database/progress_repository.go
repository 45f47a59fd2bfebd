package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/pkg/models"
)

// ProgressRepository stores per-user SM-2 schedule state
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository creates a new repository instance
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

type progressRow struct {
	ItemID string `db:"item_id"`
	models.ScheduleState
}

// GetForUser returns the schedule of every item in category the user has answered, keyed by item id
func (r *ProgressRepository) GetForUser(ctx context.Context, userID, category string) (map[string]models.ScheduleState, error) {
	var rows []progressRow
	query := r.db.Rebind(`
		SELECT p.item_id, p.repetitions, p.ease_factor, p.interval_days, p.due_at, p.last_quality, p.reviewed_at
		FROM user_progress p
		JOIN items i ON i.id = p.item_id
		WHERE p.user_id = ? AND i.category = ?
	`)
	if err := r.db.SelectContext(ctx, &rows, query, userID, category); err != nil {
		return nil, fmt.Errorf("failed to get user progress: %w", err)
	}

	states := make(map[string]models.ScheduleState, len(rows))
	for _, row := range rows {
		states[row.ItemID] = row.ScheduleState
	}
	return states, nil
}

// Upsert writes the schedule for one user and item. Repeating a write is harmless; the last one wins.
func (r *ProgressRepository) Upsert(ctx context.Context, userID, itemID string, state models.ScheduleState) error {
	var reviewedAt *time.Time
	if state.ReviewedAt != nil {
		t := state.ReviewedAt.UTC()
		reviewedAt = &t
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO user_progress (user_id, item_id, repetitions, ease_factor, interval_days, due_at, last_quality, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			repetitions = excluded.repetitions,
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			due_at = excluded.due_at,
			last_quality = excluded.last_quality,
			reviewed_at = excluded.reviewed_at
	`), userID, itemID, state.Repetitions, state.EaseFactor, state.IntervalDays, state.DueAt.UTC(), state.LastQuality, reviewedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// CountDue returns how many of the user's items are due at now, across all categories
func (r *ProgressRepository) CountDue(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	query := r.db.Rebind(`SELECT COUNT(*) FROM user_progress WHERE user_id = ? AND due_at <= ?`)
	if err := r.db.GetContext(ctx, &n, query, userID, now.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count due items: %w", err)
	}
	return n, nil
}

// DeleteForUser forgets all of a user's progress
func (r *ProgressRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM user_progress WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	return nil
}
