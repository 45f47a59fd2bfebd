package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/tradeprep/internal/config"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Open connects to the configured database and creates the schema if needed
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch cfg.Type {
	case "postgres":
		db, err = sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join("data", "tradeprep.db")
		}
		db, err = OpenSQLite(path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a sqlite file, creating its directory. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			telegram_id BIGINT UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			notification_hour INTEGER NOT NULL DEFAULT 9,
			created_at TIMESTAMP NOT NULL
		)`},
	{"items", `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			prompt TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`},
	{"items_category_idx", `CREATE INDEX IF NOT EXISTS items_category_idx ON items (category)`},
	{"item_options", `
		CREATE TABLE IF NOT EXISTS item_options (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			is_correct BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (item_id, position)
		)`},
	{"user_progress", `
		CREATE TABLE IF NOT EXISTS user_progress (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			repetitions INTEGER NOT NULL DEFAULT 0,
			ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
			interval_days INTEGER NOT NULL DEFAULT 0,
			due_at TIMESTAMP NOT NULL,
			last_quality INTEGER NOT NULL DEFAULT 0,
			reviewed_at TIMESTAMP,
			PRIMARY KEY (user_id, item_id)
		)`},
	{"user_progress_due_idx", `CREATE INDEX IF NOT EXISTS user_progress_due_idx ON user_progress (user_id, due_at)`},
	{"session_results", `
		CREATE TABLE IF NOT EXISTS session_results (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			total INTEGER NOT NULL,
			answered INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`},
}

// InitSchema creates necessary tables if they don't exist
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
