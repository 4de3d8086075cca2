package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
)

var _ Notifier = (*DryRunNotifier)(nil)

// DryRunNotifier logs the message it would have posted.
type DryRunNotifier struct {
	log  *slog.Logger
	sent atomic.Uint64
}

func NewDryRunNotifier(log *slog.Logger) *DryRunNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &DryRunNotifier{log: log}
}

func (d *DryRunNotifier) Notify(_ context.Context, chain chains.Chain, p proposals.Proposal) (Receipt, error) {
	n := d.sent.Add(1)
	attrs := []any{"chain", chain.ID, "proposal_id", p.ID, "message", FormatMessage(chain, p)}
	if !p.VotingEnd.IsZero() {
		attrs = append(attrs, "voting_end", p.VotingEnd)
	}
	d.log.Info("dry-run notification", attrs...)
	return Receipt{ID: fmt.Sprintf("dry-run-%d", n)}, nil
}

// Sent reports how many notifications were logged.
func (d *DryRunNotifier) Sent() uint64 { return d.sent.Load() }
