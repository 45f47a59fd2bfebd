package models

import "time"

// SessionResult records the outcome of one practice session
type SessionResult struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Category   string    `json:"category" db:"category"`
	Total      int       `json:"total" db:"total"` // Items in the queue
	Answered   int       `json:"answered" db:"answered"`
	Correct    int       `json:"correct" db:"correct"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}
