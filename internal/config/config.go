package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for tradeprep
type Config struct {
	Database  DatabaseConfig
	Progress  ProgressConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Telegram  TelegramConfig
	Scheduler SchedulerConfig
	Session   SessionConfig
	Log       LogConfig
}

// DatabaseConfig selects the SQL driver and its connection string
type DatabaseConfig struct {
	Type       string // "sqlite" or "postgres"
	DSN        string
	SQLitePath string
}

// ProgressConfig selects where schedule state is persisted
type ProgressConfig struct {
	Backend string // "sql" or "redis"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// HTTPConfig holds HTTP API configuration
type HTTPConfig struct {
	Enabled bool
	Addr    string
}

// TelegramConfig holds bot configuration. An empty token disables the bot.
type TelegramConfig struct {
	Token        string
	AdminUserIDs []int64
}

// SchedulerConfig holds reminder job configuration
type SchedulerConfig struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

// SessionConfig holds practice session configuration
type SessionConfig struct {
	CorrectQuality   int
	IncorrectQuality int
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration // HTTP sessions unused this long are closed; 0 keeps them forever
}

// LogConfig holds logger configuration
type LogConfig struct {
	Mode     string
	Redact   bool
	HashSalt string
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Type:       getEnv("DB_TYPE", "sqlite"),
			DSN:        getEnv("DATABASE_DSN", ""),
			SQLitePath: getEnv("SQLITE_PATH", "data/tradeprep.db"),
		},
		Progress: ProgressConfig{
			Backend: getEnv("PROGRESS_BACKEND", "sql"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		HTTP: HTTPConfig{
			Enabled: getEnvAsBool("HTTP_ENABLED", true),
			Addr:    getEnv("HTTP_ADDR", ":8080"),
		},
		Telegram: TelegramConfig{
			Token:        getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminUserIDs: getEnvAsInt64List("ADMIN_USER_IDS"),
		},
		Scheduler: SchedulerConfig{
			Enabled:   getEnvAsBool("ENABLE_SCHEDULER", true),
			StartHour: getEnvAsInt("NOTIFICATION_START_HOUR", 8),
			EndHour:   getEnvAsInt("NOTIFICATION_END_HOUR", 22),
		},
		Session: SessionConfig{
			CorrectQuality:   getEnvAsInt("QUALITY_CORRECT", 4),
			IncorrectQuality: getEnvAsInt("QUALITY_INCORRECT", 1),
			WriteTimeout:     getEnvAsDuration("WRITE_TIMEOUT", 5*time.Second),
			IdleTimeout:      getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		},
		Log: LogConfig{
			Mode:     getEnv("LOG_MODE", "development"),
			Redact:   getEnvAsBool("LOG_REDACTION_ENABLED", true),
			HashSalt: getEnv("LOG_HASH_SALT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" && c.Database.DSN == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}

	if c.Progress.Backend != "sql" && c.Progress.Backend != "redis" {
		return fmt.Errorf("unsupported progress backend: %q", c.Progress.Backend)
	}

	if !validHour(c.Scheduler.StartHour) || !validHour(c.Scheduler.EndHour) {
		return fmt.Errorf("notification hours must be within 0-23, got %d-%d", c.Scheduler.StartHour, c.Scheduler.EndHour)
	}

	for name, q := range map[string]int{"QUALITY_CORRECT": c.Session.CorrectQuality, "QUALITY_INCORRECT": c.Session.IncorrectQuality} {
		if q < 0 || q > 5 {
			return fmt.Errorf("%s must be within 0-5, got %d", name, q)
		}
	}
	if c.Session.CorrectQuality < 3 {
		return fmt.Errorf("QUALITY_CORRECT must count as a pass (>= 3), got %d", c.Session.CorrectQuality)
	}
	if c.Session.IncorrectQuality >= 3 {
		return fmt.Errorf("QUALITY_INCORRECT must count as a lapse (< 3), got %d", c.Session.IncorrectQuality)
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsInt64List(key string) []int64 {
	var ids []int64
	for _, raw := range strings.Split(os.Getenv(key), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
