package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/itrocket-team/cosmos-governance-bot/internal/detect"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

// persistGrace bounds a watermark write that starts after the chain's own
// deadline has passed, so a post that went out still gets recorded.
const persistGrace = 10 * time.Second

// detectNew returns new proposals in ascending ID order, the order they are
// announced and the watermark advanced in.
func detectNew(found []proposals.Proposal, mark uint64) ([]proposals.Proposal, uint64) {
	toReport, next := detect.Detect(found, mark)
	return detect.SortByID(toReport), next
}

// advance writes the watermark, retrying with backoff. The returned error is
// always a *watermark.PersistError.
func (s *Scheduler) advance(ctx context.Context, chainID string, value uint64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistGrace)
	defer cancel()

	err := retry.Do(
		func() error { return s.store.Advance(ctx, chainID, value) },
		retry.Context(ctx),
		retry.Attempts(s.cfg.PersistAttempts),
		retry.Delay(s.cfg.PersistBackoff),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("retrying watermark write", "chain", chainID, "attempt", n+1, "err", err)
		}),
	)
	if err != nil && !errors.Is(err, watermark.ErrPersist) {
		err = &watermark.PersistError{ChainID: chainID, Value: value, Err: err}
	}
	return err
}
