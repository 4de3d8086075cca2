package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/config"
	"github.com/itrocket-team/cosmos-governance-bot/internal/monitoring"
	"github.com/itrocket-team/cosmos-governance-bot/internal/notify"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
	"github.com/itrocket-team/cosmos-governance-bot/internal/scheduler"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

// app is everything a command needs, built once from config.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	registry  *chains.Registry
	store     watermark.Store
	closeFn   func() error
	scheduler *scheduler.Scheduler
	metrics   *prometheus.Registry
}

func (a *app) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

// loadRegistry returns the embedded chains, or the configured file, narrowed
// to the configured filter.
func loadRegistry(cfg config.ChainsConfig) (*chains.Registry, error) {
	reg := chains.Default()
	if cfg.File != "" {
		var err error
		if reg, err = chains.LoadFile(cfg.File); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
	}
	reg, err := reg.Filter(cfg.Filter...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	return reg, nil
}

// newNotifier posts for real in production and only logs in dry-run mode.
// Credentials are only read when they will be used.
func newNotifier(cfg config.Config, log *slog.Logger) (notify.Notifier, error) {
	if !cfg.IsProduction() {
		return notify.NewDryRunNotifier(log), nil
	}
	creds, err := notify.LoadCredentials(cfg.Notifier.SecretsPath)
	if err != nil {
		return nil, err
	}
	tw := notify.NewTwitterNotifier(notify.TwitterConfig{
		Credentials: creds,
		Timeout:     cfg.Scheduler.NotifyTimeout,
	})
	return notify.NewThrottle(tw, cfg.Notifier.PostLimit, cfg.Notifier.PostWindow), nil
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	reg, err := loadRegistry(cfg.Chains)
	if err != nil {
		return nil, err
	}

	// dry-run never touches durable state
	storeCfg := cfg.Store
	if !cfg.IsProduction() {
		storeCfg = watermark.Config{Driver: watermark.DriverMemory}
	}
	store, closeFn, err := watermark.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open watermark store: %w", err)
	}

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(httpRequestsTotal, httpRequestDuration)
	metrics := monitoring.NewPrometheus(promReg)

	fetcher := proposals.NewRESTFetcher(proposals.RESTFetcherConfig{
		UserAgent: cfg.Notifier.UserAgent,
		Timeout:   cfg.Scheduler.FetchTimeout,
		Logger:    log,
	})

	sched := scheduler.New(scheduler.Config{
		Interval:       cfg.Scheduler.Interval,
		StartupDelay:   cfg.Scheduler.StartupDelay,
		RunImmediately: true,
		Workers:        cfg.Scheduler.Workers,
		ChainTimeout:   cfg.Scheduler.ChainTimeout,
		FetchTimeout:   cfg.Scheduler.FetchTimeout,
		NotifyTimeout:  cfg.Scheduler.NotifyTimeout,
		AdvancePolicy:  cfg.Scheduler.AdvancePolicy,
	}, scheduler.Deps{
		Registry: reg,
		Fetcher:  fetcher,
		Store:    store,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   log,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		store:     store,
		closeFn:   closeFn,
		scheduler: sched,
		metrics:   promReg,
	}, nil
}
