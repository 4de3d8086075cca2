// Package notify announces new proposals.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
)

// MaxPostLength is the sink's character limit for a single post.
const MaxPostLength = 280

const statusMarker = "VOTING_PERIOD"

// Notifier sends one notification for a proposal.
type Notifier interface {
	Notify(ctx context.Context, chain chains.Chain, p proposals.Proposal) (Receipt, error)
}

// Receipt identifies a sent notification. Duplicate is set when the sink
// refused the post as already published; callers treat that as delivered.
type Receipt struct {
	ID        string
	Duplicate bool
}

// ErrNotify matches every *NotifyError.
var ErrNotify = errors.New("notify")

type NotifyError struct {
	ChainID    string
	ProposalID uint64
	StatusCode int
	Err        error
}

func (e *NotifyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify %s proposal %d: status %d: %v", e.ChainID, e.ProposalID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify %s proposal %d: %v", e.ChainID, e.ProposalID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

func (e *NotifyError) Is(target error) bool { return target == ErrNotify }

// ProposalURL links to the proposal on the chain's explorer.
func ProposalURL(chain chains.Chain, id uint64) string {
	return strings.TrimRight(chain.DisplayEndpoint, "/") + "/" + strconv.FormatUint(id, 10)
}

// FormatMessage renders
//
//	$JUNO | Proposal #12 | VOTING_PERIOD | <title> | https://ping.pub/juno/gov/12
//
// shortening the title so the whole post fits MaxPostLength.
func FormatMessage(chain chains.Chain, p proposals.Proposal) string {
	head := fmt.Sprintf("$%s | Proposal #%d | %s | ", strings.ToUpper(chain.ID), p.ID, statusMarker)
	tail := " | " + ProposalURL(chain, p.ID)
	title := strings.Join(strings.Fields(p.Title), " ")

	room := MaxPostLength - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)
	return head + truncate(title, room) + tail
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
