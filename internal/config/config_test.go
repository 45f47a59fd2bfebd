package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_TYPE", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.SQLitePath != "data/tradeprep.db" {
		t.Errorf("SQLitePath = %q", cfg.Database.SQLitePath)
	}
	if cfg.Progress.Backend != "sql" {
		t.Errorf("Backend = %q", cfg.Progress.Backend)
	}
	if cfg.Session.CorrectQuality != 4 || cfg.Session.IncorrectQuality != 1 {
		t.Errorf("quality policy = %d/%d", cfg.Session.CorrectQuality, cfg.Session.IncorrectQuality)
	}
	if cfg.Session.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.Session.WriteTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	env := "DB_TYPE=postgres\nDATABASE_DSN=postgres://localhost/tradeprep\nADMIN_USER_IDS=1, 2,x\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"DB_TYPE", "DATABASE_DSN", "ADMIN_USER_IDS"} {
		k := k
		prev, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Type != "postgres" || cfg.Database.DSN != "postgres://localhost/tradeprep" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[1] != 2 {
		t.Errorf("AdminUserIDs = %v", cfg.Telegram.AdminUserIDs)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Type: "sqlite", SQLitePath: "x.db"},
			Progress:  ProgressConfig{Backend: "sql"},
			Scheduler: SchedulerConfig{StartHour: 8, EndHour: 22},
			Session:   SessionConfig{CorrectQuality: 4, IncorrectQuality: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"postgres without dsn", func(c *Config) { c.Database.Type = "postgres" }, true},
		{"unknown driver", func(c *Config) { c.Database.Type = "mysql" }, true},
		{"unknown backend", func(c *Config) { c.Progress.Backend = "memcache" }, true},
		{"bad hour", func(c *Config) { c.Scheduler.EndHour = 24 }, true},
		{"correct below pass", func(c *Config) { c.Session.CorrectQuality = 2 }, true},
		{"incorrect passes", func(c *Config) { c.Session.IncorrectQuality = 3 }, true},
		{"quality out of scale", func(c *Config) { c.Session.CorrectQuality = 6 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
