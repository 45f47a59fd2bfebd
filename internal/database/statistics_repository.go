package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/internal/spaced_repetition"
	"github.com/example/tradeprep/pkg/models"
)

// StatisticsRepository aggregates progress for reporting
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository creates a new repository instance
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// CategoryStats summarizes a user's progress within one category at now
func (r *StatisticsRepository) CategoryStats(ctx context.Context, userID, category string, now time.Time) (*models.CategoryStats, error) {
	stats := models.CategoryStats{Category: category}
	query := r.db.Rebind(`
		SELECT
			COUNT(i.id) AS total_items,
			COUNT(p.item_id) AS seen,
			COALESCE(SUM(CASE WHEN p.item_id IS NOT NULL AND p.due_at <= ? THEN 1 ELSE 0 END), 0) AS due,
			-- same thresholds as SM2.IsMastered
			COALESCE(SUM(CASE WHEN p.repetitions >= ? AND p.last_quality >= ? AND p.interval_days >= ? THEN 1 ELSE 0 END), 0) AS mastered
		FROM items i
		LEFT JOIN user_progress p ON p.item_id = i.id AND p.user_id = ?
		WHERE i.category = ?
	`)
	err := r.db.GetContext(ctx, &stats, query,
		now.UTC(),
		spaced_repetition.MasteredRepetitions, int(spaced_repetition.MasteredQuality), spaced_repetition.MasteredIntervalDays,
		userID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to get category statistics: %w", err)
	}
	stats.Category = category
	stats.New = stats.TotalItems - stats.Seen
	return &stats, nil
}

// AllCategoryStats returns CategoryStats for every category that has items
func (r *StatisticsRepository) AllCategoryStats(ctx context.Context, userID string, now time.Time) ([]models.CategoryStats, error) {
	var categories []string
	if err := r.db.SelectContext(ctx, &categories, `SELECT DISTINCT category FROM items ORDER BY category`); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	out := make([]models.CategoryStats, 0, len(categories))
	for _, category := range categories {
		stats, err := r.CategoryStats(ctx, userID, category, now)
		if err != nil {
			return nil, err
		}
		out = append(out, *stats)
	}
	return out, nil
}
