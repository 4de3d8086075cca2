package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/itrocket-team/cosmos-governance-bot/internal/scheduler"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

func TestLoadDryRunDefaults(t *testing.T) {
	t.Setenv("GOVBOT_MODE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IsProduction() {
		t.Fatal("expected dry-run by default")
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("interval = %v, want 30s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.StartupDelay != 0 {
		t.Fatalf("startup delay = %v, want 0", cfg.Scheduler.StartupDelay)
	}
	if cfg.Store.Driver != watermark.DriverMemory {
		t.Fatalf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Scheduler.AdvancePolicy != scheduler.AdvanceAlways {
		t.Fatalf("policy = %q", cfg.Scheduler.AdvancePolicy)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
}

func TestLoadProductionDefaults(t *testing.T) {
	t.Setenv("GOVBOT_MODE", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production")
	}
	if cfg.Scheduler.Interval != 20*time.Minute {
		t.Fatalf("interval = %v, want 20m", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.StartupDelay != 5*time.Second {
		t.Fatalf("startup delay = %v, want 5s", cfg.Scheduler.StartupDelay)
	}
	if cfg.Store.Driver != watermark.DriverFile || cfg.Store.Dir != "data" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Notifier.SecretsPath != "secrets.prop" {
		t.Fatalf("secrets path = %q", cfg.Notifier.SecretsPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GOVBOT_MODE", "prod")
	t.Setenv("GOVBOT_INTERVAL", "90")
	t.Setenv("GOVBOT_WORKERS", "8")
	t.Setenv("GOVBOT_ADVANCE_POLICY", "ON_SUCCESS")
	t.Setenv("GOVBOT_STORE_DRIVER", "sqlite")
	t.Setenv("GOVBOT_STORE_DSN", "/var/lib/govbot/marks.db")
	t.Setenv("GOVBOT_CHAINS", "juno, osmo,,atom")
	t.Setenv("GOVBOT_LOG_LEVEL", "debug")
	t.Setenv("GOVBOT_HTTP_ADDR", "")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("interval = %v", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.AdvancePolicy != scheduler.AdvanceOnSuccess {
		t.Fatalf("policy = %q", cfg.Scheduler.AdvancePolicy)
	}
	if cfg.Store.Driver != watermark.DriverSQLite || cfg.Store.DSN != "/var/lib/govbot/marks.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if got := cfg.Chains.Filter; len(got) != 3 || got[0] != "juno" || got[2] != "atom" {
		t.Fatalf("chains filter = %v", got)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %v", cfg.LogLevel)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"GOVBOT_MODE":           "staging",
		"GOVBOT_INTERVAL":       "soon",
		"GOVBOT_WORKERS":        "0",
		"GOVBOT_ADVANCE_POLICY": "sometimes",
		"GOVBOT_STORE_DRIVER":   "redis",
		"GOVBOT_LOG_LEVEL":      "loud",
		"GOVBOT_FETCH_TIMEOUT":  "0s",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Load() with %s=%s = %v, want ErrConfig", key, val, err)
			}
		})
	}
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("GOVBOT_STORE_DRIVER", "postgres")
	t.Setenv("GOVBOT_STORE_DSN", "")
	if _, err := Load(); !errors.Is(err, ErrConfig) {
		t.Fatalf("want ErrConfig, got %v", err)
	}
}
