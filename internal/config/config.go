package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/itrocket-team/cosmos-governance-bot/internal/scheduler"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

// ErrConfig wraps every validation failure; startup treats it as fatal.
var ErrConfig = errors.New("invalid config")

type Mode string

const (
	ModeProduction Mode = "production"
	ModeDryRun     Mode = "dry-run"
)

type Config struct {
	Mode      Mode
	Scheduler SchedulerConfig
	Store     watermark.Config
	Chains    ChainsConfig
	Notifier  NotifierConfig
	HTTP      HTTPConfig
	LogLevel  slog.Level
}

type SchedulerConfig struct {
	Interval      time.Duration
	StartupDelay  time.Duration
	Workers       int
	ChainTimeout  time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	AdvancePolicy scheduler.AdvancePolicy
}

type ChainsConfig struct {
	File   string
	Filter []string
}

type NotifierConfig struct {
	SecretsPath string
	UserAgent   string
	PostLimit   int
	PostWindow  time.Duration
}

type HTTPConfig struct {
	Addr string
}

// Load reads GOVBOT_* settings from the environment. Defaults that differ
// between modes (interval, startup delay, store) are applied after the mode
// is known, so an explicit value always wins.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("govbot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", string(ModeDryRun))
	v.SetDefault("workers", 4)
	v.SetDefault("chain_timeout", "2m")
	v.SetDefault("fetch_timeout", "15s")
	v.SetDefault("notify_timeout", "30s")
	v.SetDefault("advance_policy", string(scheduler.AdvanceAlways))
	v.SetDefault("chains_file", "")
	v.SetDefault("chains", "")
	v.SetDefault("store_dir", "data")
	v.SetDefault("store_dsn", "")
	v.SetDefault("secrets_path", "secrets.prop")
	v.SetDefault("user_agent", "cosmos-governance-bot/1.0 (+https://github.com/itrocket-team/cosmos-governance-bot)")
	v.SetDefault("http_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("post_limit", 50)
	v.SetDefault("post_window", "15m")
	// PORT is honoured for container platforms, like the other services.
	_ = v.BindEnv("port", "PORT")

	mode := Mode(strings.ToLower(strings.TrimSpace(v.GetString("mode"))))
	switch mode {
	case ModeProduction, ModeDryRun:
	case "prod":
		mode = ModeProduction
	case "test", "dryrun", "dev":
		mode = ModeDryRun
	default:
		return Config{}, fmt.Errorf("%w: GOVBOT_MODE must be production or dry-run, got %q", ErrConfig, mode)
	}

	if mode == ModeProduction {
		v.SetDefault("interval", "20m")
		v.SetDefault("startup_delay", "5s")
		v.SetDefault("store_driver", string(watermark.DriverFile))
	} else {
		v.SetDefault("interval", "30s")
		v.SetDefault("startup_delay", "0s")
		v.SetDefault("store_driver", string(watermark.DriverMemory))
	}

	durations := map[string]time.Duration{}
	for _, key := range []string{"interval", "startup_delay", "chain_timeout", "fetch_timeout", "notify_timeout", "post_window"} {
		d, err := parseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("%w: GOVBOT_%s: %v", ErrConfig, strings.ToUpper(key), err)
		}
		durations[key] = d
	}
	for _, key := range []string{"interval", "chain_timeout", "fetch_timeout", "notify_timeout", "post_window"} {
		if durations[key] <= 0 {
			return Config{}, fmt.Errorf("%w: GOVBOT_%s must be positive", ErrConfig, strings.ToUpper(key))
		}
	}

	workers := v.GetInt("workers")
	if workers <= 0 || workers > 64 {
		return Config{}, fmt.Errorf("%w: GOVBOT_WORKERS must be in 1..64, got %d", ErrConfig, workers)
	}

	policy := scheduler.AdvancePolicy(strings.ToLower(strings.TrimSpace(v.GetString("advance_policy"))))
	if policy != scheduler.AdvanceAlways && policy != scheduler.AdvanceOnSuccess {
		return Config{}, fmt.Errorf("%w: GOVBOT_ADVANCE_POLICY must be always or on_success, got %q", ErrConfig, policy)
	}

	driver := watermark.Driver(strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))))
	switch driver {
	case watermark.DriverMemory, watermark.DriverFile, watermark.DriverSQLite:
	case watermark.DriverPostgres:
		if strings.TrimSpace(v.GetString("store_dsn")) == "" {
			return Config{}, fmt.Errorf("%w: GOVBOT_STORE_DSN is required for the postgres store", ErrConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown GOVBOT_STORE_DRIVER %q", ErrConfig, driver)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("%w: GOVBOT_LOG_LEVEL: %v", ErrConfig, err)
	}

	postLimit := v.GetInt("post_limit")
	if postLimit <= 0 {
		return Config{}, fmt.Errorf("%w: GOVBOT_POST_LIMIT must be positive", ErrConfig)
	}

	return Config{
		Mode: mode,
		Scheduler: SchedulerConfig{
			Interval:      durations["interval"],
			StartupDelay:  durations["startup_delay"],
			Workers:       workers,
			ChainTimeout:  durations["chain_timeout"],
			FetchTimeout:  durations["fetch_timeout"],
			NotifyTimeout: durations["notify_timeout"],
			AdvancePolicy: policy,
		},
		Store: watermark.Config{
			Driver: driver,
			Dir:    strings.TrimSpace(v.GetString("store_dir")),
			DSN:    strings.TrimSpace(v.GetString("store_dsn")),
		},
		Chains: ChainsConfig{
			File:   strings.TrimSpace(v.GetString("chains_file")),
			Filter: splitList(v.GetString("chains")),
		},
		Notifier: NotifierConfig{
			SecretsPath: strings.TrimSpace(v.GetString("secrets_path")),
			UserAgent:   strings.TrimSpace(v.GetString("user_agent")),
			PostLimit:   postLimit,
			PostWindow:  durations["post_window"],
		},
		HTTP:     HTTPConfig{Addr: resolveAddr(v)},
		LogLevel: level,
	}, nil
}

// IsProduction reports whether the bot posts for real.
func (c Config) IsProduction() bool { return c.Mode == ModeProduction }

// parseDuration accepts Go durations ("20m") and bare seconds ("1200").
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolveAddr(v *viper.Viper) string {
	if addr := strings.TrimSpace(v.GetString("http_addr")); addr != "" {
		return addr
	}
	if p := strings.TrimPrefix(strings.TrimSpace(v.GetString("port")), ":"); p != "" {
		return ":" + p
	}
	return ":8080"
}
