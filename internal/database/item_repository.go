package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/pkg/models"
)

// ItemRepository handles database operations for practice items
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates a new repository instance
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

type optionRow struct {
	ItemID    string `db:"item_id"`
	Position  int    `db:"position"`
	Text      string `db:"text"`
	IsCorrect bool   `db:"is_correct"`
}

// GetByCategory returns every item of a category with its options, ordered by id
func (r *ItemRepository) GetByCategory(ctx context.Context, category string) ([]models.Item, error) {
	var items []models.Item
	query := r.db.Rebind(`
		SELECT id, category, prompt, explanation, created_at
		FROM items WHERE category = ?
		ORDER BY id
	`)
	if err := r.db.SelectContext(ctx, &items, query, category); err != nil {
		return nil, fmt.Errorf("failed to get items by category: %w", err)
	}
	if err := r.attachOptions(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetByID returns a single item
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	query := r.db.Rebind(`SELECT id, category, prompt, explanation, created_at FROM items WHERE id = ?`)
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get item by ID: %w", err)
	}

	items := []models.Item{item}
	if err := r.attachOptions(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListCategories returns the distinct categories in alphabetical order
func (r *ItemRepository) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := r.db.SelectContext(ctx, &categories, `SELECT DISTINCT category FROM items ORDER BY category`); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// CategoryOf maps item ids to their category. Unknown ids are absent from the result.
func (r *ItemRepository) CategoryOf(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, category FROM items WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build category query: %w", err)
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get item categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, fmt.Errorf("failed to scan item category: %w", err)
		}
		out[id] = category
	}
	return out, rows.Err()
}

// Save inserts an item or replaces an existing one together with its options
func (r *ItemRepository) Save(ctx context.Context, item *models.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO items (id, category, prompt, explanation, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category = excluded.category,
			prompt = excluded.prompt,
			explanation = excluded.explanation
	`), item.ID, item.Category, item.Prompt, item.Explanation, item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM item_options WHERE item_id = ?`), item.ID); err != nil {
		return fmt.Errorf("failed to clear item options: %w", err)
	}
	insert := tx.Rebind(`INSERT INTO item_options (item_id, position, text, is_correct) VALUES (?, ?, ?, ?)`)
	for i, opt := range item.Options {
		if _, err := tx.ExecContext(ctx, insert, item.ID, i, opt.Text, opt.IsCorrect); err != nil {
			return fmt.Errorf("failed to save item option: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item: %w", err)
	}
	return nil
}

// Delete removes an item; its options and progress rows cascade
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *ItemRepository) attachOptions(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	byID := make(map[string]int, len(items))
	for i, item := range items {
		ids[i] = item.ID
		byID[item.ID] = i
	}

	query, args, err := sqlx.In(`
		SELECT item_id, position, text, is_correct
		FROM item_options WHERE item_id IN (?)
		ORDER BY item_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to build options query: %w", err)
	}

	var rows []optionRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to get item options: %w", err)
	}
	for _, row := range rows {
		i := byID[row.ItemID]
		items[i].Options = append(items[i].Options, models.Option{Text: row.Text, IsCorrect: row.IsCorrect})
	}
	return nil
}
