// Package proposals fetches governance proposals from chain LCD endpoints.
package proposals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
)

// StatusVotingPeriod is the only status the bot reports on.
const StatusVotingPeriod = "PROPOSAL_STATUS_VOTING_PERIOD"

// Proposal is one governance proposal as seen in a single fetch.
type Proposal struct {
	ID        uint64
	Title     string
	Status    string
	VotingEnd time.Time
}

// Fetcher returns the proposals currently in voting period for a chain.
type Fetcher interface {
	FetchActiveProposals(ctx context.Context, chain chains.Chain) ([]Proposal, error)
}

// ErrFetch matches every *FetchError.
var ErrFetch = errors.New("fetch proposals")

// FetchError means no data this cycle for the chain.
type FetchError struct {
	ChainID    string
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch proposals for %s: %s: status %d: %v", e.ChainID, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch proposals for %s: %s: %v", e.ChainID, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
