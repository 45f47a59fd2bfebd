package models

import "time"

// User represents a learner known to the hosting application
type User struct {
	ID                  string    `json:"id" db:"id"`
	TelegramID          *int64    `json:"telegram_id,omitempty" db:"telegram_id"`
	Username            string    `json:"username" db:"username"`
	NotificationEnabled bool      `json:"notification_enabled" db:"notification_enabled"`
	NotificationHour    int       `json:"notification_hour" db:"notification_hour"` // Hour of day for reminders (0-23)
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
