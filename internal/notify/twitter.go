package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/itrocket-team/cosmos-governance-bot/internal/chains"
	"github.com/itrocket-team/cosmos-governance-bot/internal/proposals"
)

const (
	DefaultTwitterBaseURL = "https://api.twitter.com"
	tweetsPath            = "/2/tweets"
	// duplicateStatusCode is the v1.1 error code for "Status is a duplicate".
	duplicateStatusCode = 187
	maxResponseBytes    = 1 << 20
)

var _ Notifier = (*TwitterNotifier)(nil)

type TwitterConfig struct {
	Credentials Credentials
	BaseURL     string
	Timeout     time.Duration
	// Transport is the unsigned base transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// TwitterNotifier posts proposals to X/Twitter as the configured user.
type TwitterNotifier struct {
	client  *http.Client
	baseURL string
}

func NewTwitterNotifier(cfg TwitterConfig) *TwitterNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwitterBaseURL
	}
	base := &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)

	oc := oauth1.NewConfig(cfg.Credentials.APIKey, cfg.Credentials.APIKeySecret)
	client := oc.Client(ctx, oauth1.NewToken(cfg.Credentials.AccessToken, cfg.Credentials.AccessTokenSecret))
	client.Timeout = cfg.Timeout

	return &TwitterNotifier{client: client, baseURL: strings.TrimRight(cfg.BaseURL, "/")}
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (r tweetResponse) duplicate() bool {
	if strings.Contains(strings.ToLower(r.Detail), "duplicate") {
		return true
	}
	for _, e := range r.Errors {
		if e.Code == duplicateStatusCode || strings.Contains(strings.ToLower(e.Message), "duplicate") {
			return true
		}
	}
	return false
}

func (r tweetResponse) message() string {
	if r.Detail != "" {
		return r.Detail
	}
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return r.Title
}

func (t *TwitterNotifier) Notify(ctx context.Context, chain chains.Chain, p proposals.Proposal) (Receipt, error) {
	fail := func(code int, err error) (Receipt, error) {
		return Receipt{}, &NotifyError{ChainID: chain.ID, ProposalID: p.ID, StatusCode: code, Err: err}
	}

	body, err := json.Marshal(tweetRequest{Text: FormatMessage(chain, p)})
	if err != nil {
		return fail(0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+tweetsPath, bytes.NewReader(body))
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	var out tweetResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil || out.Data == nil || out.Data.ID == "" {
			return fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", truncate(string(raw), 200)))
		}
		return Receipt{ID: out.Data.ID}, nil
	}
	if decodeErr == nil && out.duplicate() {
		return Receipt{Duplicate: true}, nil
	}
	msg := http.StatusText(resp.StatusCode)
	if decodeErr == nil && out.message() != "" {
		msg = out.message()
	}
	return fail(resp.StatusCode, errors.New(msg))
}
