package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/notify"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

var errBoom = errors.New("boom")

// fakeFetcher serves canned proposals per chain.
type fakeFetcher struct {
	mu      sync.Mutex
	byChain map[string][]uint64
	errs    map[string]error
	panics  map[string]bool
	block   map[string]bool
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeFetcher) set(chain string, ids ...uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byChain == nil {
		f.byChain = map[string][]uint64{}
	}
	f.byChain[chain] = ids
}

func (f *fakeFetcher) FetchActiveProposals(ctx context.Context, chain chains.Chain) ([]proposals.Proposal, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	ids, err, panics, block := f.byChain[chain.ID], f.errs[chain.ID], f.panics[chain.ID], f.block[chain.ID]
	f.mu.Unlock()

	if panics {
		panic("unexpected payload")
	}
	if block {
		<-ctx.Done()
		return nil, &proposals.FetchError{ChainID: chain.ID, Op: "request", Err: ctx.Err()}
	}
	if err != nil {
		return nil, &proposals.FetchError{ChainID: chain.ID, Op: "request", Err: err}
	}
	out := make([]proposals.Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, proposals.Proposal{ID: id, Title: "prop"})
	}
	return out, nil
}

type sent struct {
	chain string
	id    uint64
}

// fakeNotifier records calls; failFor makes selected proposal IDs fail.
type fakeNotifier struct {
	mu        sync.Mutex
	calls     []sent
	failFor   map[uint64]bool
	duplicate map[uint64]bool
}

func (n *fakeNotifier) Notify(_ context.Context, c chains.Chain, p proposals.Proposal) (notify.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sent{c.ID, p.ID})
	if n.failFor[p.ID] {
		return notify.Receipt{}, &notify.NotifyError{ChainID: c.ID, ProposalID: p.ID, StatusCode: 503, Err: errBoom}
	}
	if n.duplicate[p.ID] {
		return notify.Receipt{Duplicate: true}, nil
	}
	return notify.Receipt{ID: "id"}, nil
}

func (n *fakeNotifier) sentFor(chain string) []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []uint64{}
	for _, s := range n.calls {
		if s.chain == chain {
			out = append(out, s.id)
		}
	}
	return out
}

// flakyStore fails Advance for the listed chains.
type flakyStore struct {
	*watermark.MemoryStore
	fail     map[string]bool
	attempts atomic.Int32
}

func (f *flakyStore) Advance(ctx context.Context, chainID string, v uint64) error {
	f.attempts.Add(1)
	if f.fail[chainID] {
		return &watermark.PersistError{ChainID: chainID, Value: v, Err: errBoom}
	}
	return f.MemoryStore.Advance(ctx, chainID, v)
}

func registry(t *testing.T, ids ...string) *chains.Registry {
	t.Helper()
	list := make([]chains.Chain, 0, len(ids))
	for _, id := range ids {
		list = append(list, chains.Chain{
			ID:              id,
			QueryEndpoint:   "https://lcd." + id + ".example/cosmos/gov/v1beta1/proposals",
			DisplayEndpoint: "https://ping.pub/" + id + "/gov",
		})
	}
	r, err := chains.NewRegistry(list...)
	require.NoError(t, err)
	return r
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newScheduler(t *testing.T, cfg Config, reg *chains.Registry, f proposals.Fetcher, s watermark.Store, n notify.Notifier) *Scheduler {
	t.Helper()
	if cfg.PersistBackoff == 0 {
		cfg.PersistBackoff = time.Millisecond
	}
	return New(cfg, Deps{Registry: reg, Fetcher: f, Store: s, Notifier: n, Logger: quietLogger()})
}

func get(t *testing.T, s watermark.Store, chain string) uint64 {
	t.Helper()
	v, err := s.Get(context.Background(), chain)
	require.NoError(t, err)
	return v
}

func TestCycleReportsInAscendingOrder(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 5, 3, 7)
	store := watermark.NewMemoryStore()
	n := &fakeNotifier{}
	s := newScheduler(t, Config{}, registry(t, "juno"), f, store, n)

	rep := s.RunCycle(context.Background())

	assert.Equal(t, []uint64{3, 5, 7}, n.sentFor("juno"))
	assert.Equal(t, uint64(7), get(t, store, "juno"))
	require.Len(t, rep.Chains, 1)
	assert.Equal(t, ChainResult{ChainID: "juno", Fetched: 3, Reported: 3, Watermark: 7}, rep.Chains[0])
	assert.NotEmpty(t, rep.ID)
	assert.Zero(t, rep.Failed())

	// same data next cycle: nothing new
	s.RunCycle(context.Background())
	assert.Len(t, n.sentFor("juno"), 3)
}

func TestDuplicateIDsReportedOnce(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 4, 4, 9)
	n := &fakeNotifier{}
	s := newScheduler(t, Config{}, registry(t, "juno"), f, watermark.NewMemoryStore(), n)

	s.RunCycle(context.Background())
	assert.Equal(t, []uint64{4, 9}, n.sentFor("juno"))
}

func TestFetchFailureIsolatedToChain(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{"a": errBoom}}
	f.set("a", 1)
	f.set("b", 2)
	n := &fakeNotifier{}
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{Workers: 1}, registry(t, "a", "b"), f, store, n)

	rep := s.RunCycle(context.Background())

	assert.Empty(t, n.sentFor("a"))
	assert.Equal(t, []uint64{2}, n.sentFor("b"))
	assert.Equal(t, uint64(2), get(t, store, "b"))
	assert.Zero(t, get(t, store, "a"))

	require.Len(t, rep.Chains, 2)
	assert.Equal(t, "a", rep.Chains[0].ChainID)
	assert.ErrorIs(t, rep.Chains[0].Err, proposals.ErrFetch)
	assert.NoError(t, rep.Chains[1].Err)
	assert.Equal(t, 1, rep.Failed())
}

func TestPanicIsolatedToChain(t *testing.T) {
	f := &fakeFetcher{panics: map[string]bool{"a": true}}
	f.set("b", 1)
	n := &fakeNotifier{}
	s := newScheduler(t, Config{}, registry(t, "a", "b"), f, watermark.NewMemoryStore(), n)

	rep := s.RunCycle(context.Background())
	require.Error(t, rep.Chains[0].Err)
	assert.Contains(t, rep.Chains[0].Err.Error(), "panic")
	assert.Equal(t, []uint64{1}, n.sentFor("b"))
	assert.Equal(t, Idle, s.State())
}

func TestSlowChainBoundedByTimeout(t *testing.T) {
	f := &fakeFetcher{block: map[string]bool{"slow": true}}
	f.set("fast", 1)
	n := &fakeNotifier{}
	s := newScheduler(t, Config{Workers: 2, FetchTimeout: 50 * time.Millisecond}, registry(t, "slow", "fast"), f, watermark.NewMemoryStore(), n)

	start := time.Now()
	rep := s.RunCycle(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, rep.Chains[0].Err, context.DeadlineExceeded)
	assert.Equal(t, []uint64{1}, n.sentFor("fast"))
}

func TestAdvanceAlwaysSkipsFailedNotification(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 3, 5, 7)
	n := &fakeNotifier{failFor: map[uint64]bool{5: true}}
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{AdvancePolicy: AdvanceAlways}, registry(t, "juno"), f, store, n)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, []uint64{3, 5, 7}, n.sentFor("juno"))
	assert.Equal(t, uint64(7), get(t, store, "juno"))
	assert.Equal(t, 2, rep.Chains[0].Reported)
	assert.Equal(t, 1, rep.Chains[0].NotifyFailures)
	assert.NoError(t, rep.Chains[0].Err)
	assert.Equal(t, 1, rep.Failed())

	// 5 is not retried
	s.RunCycle(context.Background())
	assert.Len(t, n.sentFor("juno"), 3)
}

func TestAdvanceOnSuccessRetriesNextCycle(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 3, 5, 7)
	n := &fakeNotifier{failFor: map[uint64]bool{5: true}}
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{AdvancePolicy: AdvanceOnSuccess}, registry(t, "juno"), f, store, n)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, []uint64{3, 5}, n.sentFor("juno"))
	assert.Equal(t, uint64(3), get(t, store, "juno"))
	assert.ErrorIs(t, rep.Chains[0].Err, notify.ErrNotify)

	n.mu.Lock()
	n.failFor = nil
	n.mu.Unlock()

	s.RunCycle(context.Background())
	assert.Equal(t, []uint64{3, 5, 5, 7}, n.sentFor("juno"))
	assert.Equal(t, uint64(7), get(t, store, "juno"))
}

func TestDuplicateReceiptCountsAsDelivered(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 8)
	n := &fakeNotifier{duplicate: map[uint64]bool{8: true}}
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{AdvancePolicy: AdvanceOnSuccess}, registry(t, "juno"), f, store, n)

	rep := s.RunCycle(context.Background())
	assert.NoError(t, rep.Chains[0].Err)
	assert.Equal(t, uint64(8), get(t, store, "juno"))
}

func TestPersistFailureStopsChainAndRepeatsNextCycle(t *testing.T) {
	f := &fakeFetcher{}
	f.set("a", 1, 2)
	f.set("b", 4)
	store := &flakyStore{MemoryStore: watermark.NewMemoryStore(), fail: map[string]bool{"a": true}}
	n := &fakeNotifier{}
	s := newScheduler(t, Config{PersistAttempts: 3}, registry(t, "a", "b"), f, store, n)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, []uint64{1}, n.sentFor("a"), "no further posts after a failed write")
	assert.ErrorIs(t, rep.Chains[0].Err, watermark.ErrPersist)
	assert.Zero(t, get(t, store, "a"))
	assert.Equal(t, uint64(4), get(t, store, "b"))
	// 3 attempts for a, 1 for b
	assert.Equal(t, int32(4), store.attempts.Load())

	// accepted at-least-once: the unpersisted proposal is posted again
	store.fail = nil
	s.RunCycle(context.Background())
	assert.Equal(t, []uint64{1, 1, 2}, n.sentFor("a"))
	assert.Equal(t, uint64(2), get(t, store, "a"))
}

func TestWatermarkSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	fs, err := watermark.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Advance(context.Background(), "x", 10))

	// fresh process: new store on the same directory
	restarted, err := watermark.NewFileStore(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), get(t, restarted, "x"))

	f := &fakeFetcher{}
	f.set("x", 9, 10, 11)
	n := &fakeNotifier{}
	s := newScheduler(t, Config{}, registry(t, "x"), f, restarted, n)
	s.RunCycle(context.Background())
	assert.Equal(t, []uint64{11}, n.sentFor("x"))
	assert.Equal(t, uint64(11), get(t, restarted, "x"))
}

func TestWorkersBoundConcurrency(t *testing.T) {
	f := &fakeFetcher{delay: 20 * time.Millisecond}
	ids := []string{"a", "b", "c", "d", "e", "f"}
	s := newScheduler(t, Config{Workers: 2}, registry(t, ids...), f, watermark.NewMemoryStore(), &fakeNotifier{})

	rep := s.RunCycle(context.Background())
	assert.Len(t, rep.Chains, len(ids))
	assert.LessOrEqual(t, f.maxActive.Load(), int32(2))
	for i, c := range rep.Chains {
		assert.Equal(t, ids[i], c.ChainID, "report keeps registry order")
	}
}

func TestRunImmediateThenTicks(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 1)
	s := newScheduler(t, Config{Interval: 20 * time.Millisecond, RunImmediately: true}, registry(t, "juno"), f, watermark.NewMemoryStore(), &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Completed() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Idle, s.State())
}

func TestRunWithoutImmediateWaitsForTick(t *testing.T) {
	s := newScheduler(t, Config{Interval: time.Hour}, registry(t, "juno"), &fakeFetcher{}, watermark.NewMemoryStore(), &fakeNotifier{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Completed())
}

func TestRunCancelledDuringStartupDelay(t *testing.T) {
	s := newScheduler(t, Config{StartupDelay: time.Hour, RunImmediately: true}, registry(t, "juno"), &fakeFetcher{}, watermark.NewMemoryStore(), &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Completed())
}

func TestStateDuringCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := fetchFunc(func(ctx context.Context, c chains.Chain) ([]proposals.Proposal, error) {
		close(entered)
		<-release
		return nil, nil
	})
	s := newScheduler(t, Config{}, registry(t, "juno"), f, watermark.NewMemoryStore(), &fakeNotifier{})

	done := make(chan struct{})
	go func() {
		s.RunCycle(context.Background())
		close(done)
	}()
	<-entered
	assert.Equal(t, Running, s.State())
	close(release)
	<-done
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, "idle", s.State().String())
}

type fetchFunc func(ctx context.Context, c chains.Chain) ([]proposals.Proposal, error)

func (f fetchFunc) FetchActiveProposals(ctx context.Context, c chains.Chain) ([]proposals.Proposal, error) {
	return f(ctx, c)
}

type notifyFunc func(ctx context.Context, c chains.Chain, p proposals.Proposal) (notify.Receipt, error)

func (f notifyFunc) Notify(ctx context.Context, c chains.Chain, p proposals.Proposal) (notify.Receipt, error) {
	return f(ctx, c, p)
}

func TestShutdownMidChainKeepsUndeliveredProposals(t *testing.T) {
	f := &fakeFetcher{}
	f.set("a", 1, 2, 3, 4, 5)
	store := watermark.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var posted []uint64
	n := notifyFunc(func(ctx context.Context, _ chains.Chain, p proposals.Proposal) (notify.Receipt, error) {
		if err := ctx.Err(); err != nil {
			return notify.Receipt{}, err
		}
		posted = append(posted, p.ID)
		if p.ID == 2 {
			cancel()
		}
		return notify.Receipt{ID: "ok"}, nil
	})
	s := newScheduler(t, Config{AdvancePolicy: AdvanceAlways}, registry(t, "a"), f, store, n)

	rep := s.RunCycle(ctx)
	assert.Equal(t, []uint64{1, 2}, posted)
	assert.Equal(t, uint64(2), get(t, store, "a"))
	assert.Equal(t, uint64(2), rep.Chains[0].Watermark)
	assert.ErrorIs(t, rep.Chains[0].Err, context.Canceled)
	assert.Zero(t, rep.Chains[0].NotifyFailures)
	assert.Equal(t, 1, rep.Failed())

	// the next cycle picks up where the cancelled one stopped
	s.RunCycle(context.Background())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, posted)
	assert.Equal(t, uint64(5), get(t, store, "a"))
}

func TestChainDeadlineDuringNotifyDoesNotAdvance(t *testing.T) {
	f := &fakeFetcher{}
	f.set("a", 1, 2)
	store := watermark.NewMemoryStore()
	n := notifyFunc(func(ctx context.Context, _ chains.Chain, p proposals.Proposal) (notify.Receipt, error) {
		if p.ID == 1 {
			return notify.Receipt{ID: "ok"}, nil
		}
		<-ctx.Done()
		return notify.Receipt{}, ctx.Err()
	})
	s := newScheduler(t, Config{ChainTimeout: 50 * time.Millisecond, NotifyTimeout: time.Minute}, registry(t, "a"), f, store, n)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, uint64(1), get(t, store, "a"))
	assert.ErrorIs(t, rep.Chains[0].Err, context.DeadlineExceeded)
}

func TestThrottleWaitIsOutsideNotifyTimeout(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 1, 2, 3)
	inner := &fakeNotifier{}
	th := notify.NewThrottle(inner, 1, 100*time.Millisecond)
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{NotifyTimeout: 20 * time.Millisecond, ChainTimeout: 5 * time.Second}, registry(t, "juno"), f, store, th)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, []uint64{1, 2, 3}, inner.sentFor("juno"))
	assert.Equal(t, uint64(3), get(t, store, "juno"))
	assert.Zero(t, rep.Failed())
}

func TestThrottleExhaustedLeavesWatermarkForNextCycle(t *testing.T) {
	f := &fakeFetcher{}
	f.set("juno", 1, 2, 3)
	inner := &fakeNotifier{}
	th := notify.NewThrottle(inner, 1, time.Hour)
	store := watermark.NewMemoryStore()
	s := newScheduler(t, Config{NotifyTimeout: 20 * time.Millisecond, ChainTimeout: 100 * time.Millisecond}, registry(t, "juno"), f, store, th)

	rep := s.RunCycle(context.Background())
	assert.Equal(t, []uint64{1}, inner.sentFor("juno"))
	assert.Equal(t, uint64(1), get(t, store, "juno"))
	assert.ErrorIs(t, rep.Chains[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1, rep.Failed())
}
