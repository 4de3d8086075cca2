package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
)

const (
	DefaultUserAgent = "cosmos-governance-bot/1.0"
	DefaultTimeout   = 15 * time.Second

	// votingPeriodFilter is the numeric gov ProposalStatus for voting period.
	votingPeriodFilter = "2"
	maxBodyBytes       = 4 << 20
	untitled           = "(untitled)"
)

var _ Fetcher = (*RESTFetcher)(nil)

// RESTFetcherConfig configures a RESTFetcher. Zero values get defaults.
type RESTFetcherConfig struct {
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RESTFetcher reads proposals from a cosmos-sdk LCD gov endpoint.
// It issues exactly one request per call and never retries.
type RESTFetcher struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

func NewRESTFetcher(cfg RESTFetcherConfig) *RESTFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RESTFetcher{client: client, userAgent: cfg.UserAgent, log: cfg.Logger}
}

func (f *RESTFetcher) FetchActiveProposals(ctx context.Context, chain chains.Chain) ([]Proposal, error) {
	fail := func(op string, code int, err error) error {
		return &FetchError{ChainID: chain.ID, Op: op, StatusCode: code, Err: err}
	}

	endpoint, err := withStatusFilter(chain.QueryEndpoint)
	if err != nil {
		return nil, fail("build url", 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fail("build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fail("request", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fail("response", resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fail("read body", resp.StatusCode, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fail("read body", resp.StatusCode, fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
	}

	var payload listResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fail("decode", resp.StatusCode, err)
	}
	if payload.Proposals == nil {
		return nil, fail("decode", resp.StatusCode, errors.New(`missing "proposals" field`))
	}

	out := make([]Proposal, 0, len(*payload.Proposals))
	for _, raw := range *payload.Proposals {
		p, ok := raw.toProposal()
		if !ok {
			f.log.Debug("skipping proposal without id", "chain", chain.ID)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// withStatusFilter adds proposal_status=2 while keeping any query the
// operator already put on the endpoint.
func withStatusFilter(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("proposal_status", votingPeriodFilter)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type listResponse struct {
	Proposals *[]rawProposal `json:"proposals"`
}

// rawProposal covers both gov v1beta1 and gov v1 shapes.
type rawProposal struct {
	ProposalID json.RawMessage `json:"proposal_id"`
	ID         json.RawMessage `json:"id"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	VotingEnd  string          `json:"voting_end_time"`
	Content    *struct {
		Title string `json:"title"`
	} `json:"content"`
	Messages []struct {
		Content *struct {
			Title string `json:"title"`
		} `json:"content"`
	} `json:"messages"`
}

func (r rawProposal) toProposal() (Proposal, bool) {
	id, ok := parseID(r.ProposalID)
	if !ok {
		id, ok = parseID(r.ID)
	}
	if !ok {
		return Proposal{}, false
	}
	p := Proposal{ID: id, Title: r.title(), Status: r.Status}
	if p.Status == "" {
		p.Status = StatusVotingPeriod
	}
	if r.VotingEnd != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.VotingEnd); err == nil {
			p.VotingEnd = t
		}
	}
	return p, true
}

func (r rawProposal) title() string {
	if r.Content != nil && strings.TrimSpace(r.Content.Title) != "" {
		return strings.TrimSpace(r.Content.Title)
	}
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	for _, m := range r.Messages {
		if m.Content != nil && strings.TrimSpace(m.Content.Title) != "" {
			return strings.TrimSpace(m.Content.Title)
		}
	}
	return untitled
}

// parseID accepts "12" and 12; cosmos encodes uint64 as a JSON string.
func parseID(raw json.RawMessage) (uint64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	s = strings.Trim(s, `"`)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
