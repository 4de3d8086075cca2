// Package detect decides which fetched proposals are new for a chain.
package detect

import (
	"slices"

	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
)

// Detect returns the proposals with an ID above watermark, in input order
// with duplicate IDs dropped after their first occurrence, and the watermark
// to store once they are handled. The input order is not assumed to be sorted.
func Detect(in []proposals.Proposal, watermark uint64) ([]proposals.Proposal, uint64) {
	next := watermark
	var out []proposals.Proposal
	seen := make(map[uint64]struct{}, len(in))
	for _, p := range in {
		if p.ID <= watermark {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
		if p.ID > next {
			next = p.ID
		}
	}
	return out, next
}

// SortByID returns an ascending copy, the order notifications go out in so
// the watermark can advance one proposal at a time.
func SortByID(in []proposals.Proposal) []proposals.Proposal {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b proposals.Proposal) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}
