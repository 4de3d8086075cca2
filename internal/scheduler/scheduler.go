// Package scheduler runs check cycles over every configured chain.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/monitoring"
	"github.com/itrocket-team/cosmos-governance-bot/internal/notify"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

// AdvancePolicy decides whether a failed notification still moves the
// watermark past its proposal.
type AdvancePolicy string

const (
	// AdvanceAlways moves the watermark after every attempt. Each proposal is
	// tried at most once; a sink outage drops its notifications.
	AdvanceAlways AdvancePolicy = "always"
	// AdvanceOnSuccess keeps the watermark below a failed proposal so the next
	// cycle retries it.
	AdvanceOnSuccess AdvancePolicy = "on_success"
)

// State is whether a cycle is in progress.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Config tunes cadence, concurrency and timeouts. Zero values take defaults.
type Config struct {
	Interval time.Duration
	// StartupDelay is waited once before anything runs.
	StartupDelay time.Duration
	// RunImmediately runs a cycle on start instead of after the first tick.
	RunImmediately bool
	// Workers caps how many chains are checked at once.
	Workers       int
	ChainTimeout  time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	AdvancePolicy AdvancePolicy
	// PersistAttempts and PersistBackoff bound retries of a watermark write.
	PersistAttempts uint
	PersistBackoff  time.Duration
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ChainTimeout <= 0 {
		c.ChainTimeout = 2 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 30 * time.Second
	}
	if c.AdvancePolicy == "" {
		c.AdvancePolicy = AdvanceAlways
	}
	if c.PersistAttempts == 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 500 * time.Millisecond
	}
}

// Deps are the collaborators a Scheduler drives. Metrics and Logger are optional.
type Deps struct {
	Registry *chains.Registry
	Fetcher  proposals.Fetcher
	Store    watermark.Store
	Notifier notify.Notifier
	Metrics  monitoring.Metrics
	Logger   *slog.Logger
}

// ChainResult is what one chain's check produced in a cycle.
type ChainResult struct {
	ChainID        string
	Fetched        int
	Reported       int
	NotifyFailures int
	Watermark      uint64
	Err            error
}

// CycleReport summarizes one pass over every chain, in registry order.
type CycleReport struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Chains   []ChainResult
}

// Failed counts chains that ended the cycle with an error or with at least
// one notification that did not go out.
func (r CycleReport) Failed() int {
	n := 0
	for _, c := range r.Chains {
		if c.Err != nil || c.NotifyFailures > 0 {
			n++
		}
	}
	return n
}

// Scheduler checks every registered chain once per interval.
type Scheduler struct {
	cfg      Config
	registry *chains.Registry
	fetcher  proposals.Fetcher
	store    watermark.Store
	notifier notify.Notifier
	metrics  monitoring.Metrics
	log      *slog.Logger

	state     atomic.Int32
	completed atomic.Uint64
}

// New returns an idle Scheduler; Run or RunCycle start work.
func New(cfg Config, deps Deps) *Scheduler {
	cfg.setDefaults()
	if deps.Metrics == nil {
		deps.Metrics = monitoring.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		registry: deps.Registry,
		fetcher:  deps.Fetcher,
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Logger,
	}
}

// State reports whether a cycle is running right now.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Completed is the number of cycles finished since start.
func (s *Scheduler) Completed() uint64 { return s.completed.Load() }

// Run checks all chains every Interval until ctx is done. Cycles never
// overlap; a tick that fires during a slow cycle is dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting",
		"interval", s.cfg.Interval,
		"chains", s.registry.Len(),
		"workers", s.cfg.Workers,
		"advance_policy", s.cfg.AdvancePolicy,
	)
	if s.cfg.StartupDelay > 0 {
		timer := time.NewTimer(s.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	if s.cfg.RunImmediately {
		s.RunCycle(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle checks every chain once and returns when all have been attempted.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	s.state.Store(int32(Running))
	defer s.state.Store(int32(Idle))

	report := CycleReport{ID: uuid.NewString(), Started: time.Now()}
	log := s.log.With("cycle_id", report.ID)

	list := s.registry.List()
	results := make([]ChainResult, len(list))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, chain := range list {
		i, chain := i, chain
		g.Go(func() error {
			results[i] = s.checkChain(ctx, log.With("chain", chain.ID), chain)
			return nil
		})
	}
	_ = g.Wait()

	report.Chains = results
	report.Duration = time.Since(report.Started)
	s.metrics.CycleCompleted(report.Duration, report.Failed())
	s.completed.Add(1)

	log.Info("all chains checked",
		"duration", report.Duration,
		"chains", len(results),
		"failed", report.Failed(),
		"next_in", s.cfg.Interval,
	)
	return report
}

// checkChain is the failure boundary for one chain: nothing it does,
// including a panic, leaks into the cycle.
func (s *Scheduler) checkChain(parent context.Context, log *slog.Logger, chain chains.Chain) (res ChainResult) {
	res.ChainID = chain.ID
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("check %s: panic: %v", chain.ID, r)
			log.Error("chain check panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(parent, s.cfg.ChainTimeout)
	defer cancel()

	mark, err := s.store.Get(ctx, chain.ID)
	if err != nil {
		res.Err = fmt.Errorf("get watermark: %w", err)
		log.Error("read watermark failed", "op", "get_watermark", "err", err)
		return res
	}
	res.Watermark = mark
	log.Debug("last reported proposal", "watermark", mark)

	found, err := s.fetch(ctx, chain)
	if err != nil {
		res.Err = err
		log.Warn("fetch failed", "op", "fetch", "err", err)
		return res
	}
	res.Fetched = len(found)

	toReport, next := detectNew(found, mark)
	if len(toReport) == 0 {
		log.Debug("no new proposals", "fetched", len(found))
		return res
	}
	log.Info("new proposals", "count", len(toReport), "watermark", mark, "new_watermark", next)

	for _, p := range toReport {
		plog := log.With("proposal_id", p.ID)
		notifyErr := s.notify(ctx, plog, chain, p)
		if notifyErr != nil && ctx.Err() != nil {
			// shutdown or chain deadline, not a sink failure: leave the rest for next cycle
			res.Err = fmt.Errorf("abandoned at proposal %d: %w", p.ID, ctx.Err())
			plog.Warn("chain check abandoned; watermark not advanced", "op", "notify", "watermark", res.Watermark, "err", ctx.Err())
			return res
		}
		if notifyErr != nil {
			res.NotifyFailures++
			if s.cfg.AdvancePolicy == AdvanceOnSuccess {
				res.Err = notifyErr
				plog.Warn("holding watermark until notification succeeds", "watermark", res.Watermark)
				return res
			}
		} else {
			res.Reported++
		}

		if err := s.advance(ctx, chain.ID, p.ID); err != nil {
			res.Err = err
			s.metrics.PersistError(chain.ID)
			plog.Error("persist watermark failed; chain may repeat next cycle", "op", "advance", "err", err)
			return res
		}
		res.Watermark = p.ID
		s.metrics.Watermark(chain.ID, p.ID)
	}
	return res
}

func (s *Scheduler) fetch(ctx context.Context, chain chains.Chain) ([]proposals.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	found, err := s.fetcher.FetchActiveProposals(ctx, chain)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.Fetch(chain.ID, status, time.Since(start))
	return found, err
}

func (s *Scheduler) notify(ctx context.Context, log *slog.Logger, chain chains.Chain, p proposals.Proposal) error {
	// Waiting for posting budget is bounded by the chain deadline only.
	if r, ok := s.notifier.(notify.Reserver); ok {
		reserved, err := r.Reserve(ctx)
		if err != nil {
			log.Warn("no posting budget before chain deadline", "op", "reserve", "err", err)
			return &notify.NotifyError{ChainID: chain.ID, ProposalID: p.ID, Err: err}
		}
		ctx = reserved
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	rec, err := s.notifier.Notify(ctx, chain, p)
	switch {
	case err != nil:
		s.metrics.Notify(chain.ID, "error")
		log.Error("notification failed", "op", "notify", "err", err)
		if !errors.Is(err, notify.ErrNotify) {
			err = &notify.NotifyError{ChainID: chain.ID, ProposalID: p.ID, Err: err}
		}
		return err
	case rec.Duplicate:
		s.metrics.Notify(chain.ID, "duplicate")
		log.Info("notification already posted")
	default:
		s.metrics.Notify(chain.ID, "ok")
		log.Info("notification sent", "notification_id", rec.ID, "title", p.Title)
	}
	return nil
}
