package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/pkg/models"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new repository instance
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, telegram_id, username, notification_enabled, notification_hour, created_at`

// GetByTelegramID returns the user linked to a Telegram account
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`), telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("telegram user %d: %w", telegramID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by telegram id: %w", err)
	}
	return &user, nil
}

// GetOrCreateByTelegramID returns the user linked to telegramID, registering one on first contact
func (r *UserRepository) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	user, err := r.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tid := telegramID
	user = &models.User{
		ID:                  uuid.NewString(),
		TelegramID:          &tid,
		Username:            username,
		NotificationEnabled: true,
		NotificationHour:    9,
		CreatedAt:           time.Now().UTC(),
	}
	if err := r.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Create inserts a new user, assigning an id if it has none
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :telegram_id, :username, :notification_enabled, :notification_hour, :created_at)
	`, user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateNotifications changes a user's reminder preferences
func (r *UserRepository) UpdateNotifications(ctx context.Context, id string, enabled bool, hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("notification hour %d outside 0-23", hour)
	}
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE users SET notification_enabled = ?, notification_hour = ? WHERE id = ?`),
		enabled, hour, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update notifications: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetUsersForNotification returns users who have notifications enabled for the given hour
func (r *UserRepository) GetUsersForNotification(ctx context.Context, hour int) ([]models.User, error) {
	var users []models.User
	query := r.db.Rebind(`
		SELECT ` + userColumns + ` FROM users
		WHERE notification_enabled = ? AND notification_hour = ?
		ORDER BY created_at
	`)
	if err := r.db.SelectContext(ctx, &users, query, true, hour); err != nil {
		return nil, fmt.Errorf("failed to get users for notification: %w", err)
	}
	return users, nil
}
