package notify

import (
	"context"
	"sync"
	"time"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
)

// Sink posting limits for user-context writes.
const (
	DefaultPostLimit  = 50
	DefaultPostWindow = 15 * time.Minute
)

var _ Reserver = (*Throttle)(nil)

type reservedKey struct{}

// Reserver is a Notifier with a posting budget. Callers that bound each post
// with a short timeout reserve first, so waiting for budget is not mistaken
// for a slow sink.
type Reserver interface {
	Notifier
	Reserve(ctx context.Context) (context.Context, error)
}

// Throttle caps posts within a sliding window. A post over the limit waits
// for the oldest one to age out, or gives up when ctx ends.
type Throttle struct {
	next   Notifier
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits []time.Time
}

func NewThrottle(next Notifier, limit int, window time.Duration) *Throttle {
	if limit <= 0 {
		limit = DefaultPostLimit
	}
	if window <= 0 {
		window = DefaultPostWindow
	}
	return &Throttle{next: next, limit: limit, window: window, now: time.Now}
}

// Reserve blocks until a post slot is free and takes it. Passing the returned
// context to Notify spends that slot instead of taking another.
func (t *Throttle) Reserve(ctx context.Context) (context.Context, error) {
	for {
		wait := t.reserve()
		if wait <= 0 {
			return context.WithValue(ctx, reservedKey{}, true), nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Throttle) Notify(ctx context.Context, chain chains.Chain, p proposals.Proposal) (Receipt, error) {
	if reserved, _ := ctx.Value(reservedKey{}).(bool); !reserved {
		var err error
		if ctx, err = t.Reserve(ctx); err != nil {
			return Receipt{}, &NotifyError{ChainID: chain.ID, ProposalID: p.ID, Err: err}
		}
	}
	return t.next.Notify(ctx, chain, p)
}

// reserve takes a slot and returns 0, or returns how long until one frees.
func (t *Throttle) reserve() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	if len(t.hits) >= t.limit {
		return t.hits[0].Add(t.window).Sub(now)
	}
	t.hits = append(t.hits, now)
	return 0
}

// prune drops timestamps older than the window to keep the slice bounded.
func (t *Throttle) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.hits) && !t.hits[i].After(cutoff) {
		i++
	}
	t.hits = t.hits[i:]
}
