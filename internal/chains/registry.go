// Package chains holds the set of chains the bot watches.
package chains

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidChain is returned when a chain entry cannot be registered.
var ErrInvalidChain = errors.New("invalid chain")

// Chain is one monitored network. ID doubles as the ticker in notifications.
type Chain struct {
	ID              string
	QueryEndpoint   string
	DisplayEndpoint string
}

// Registry is an ordered, read-only set of chains.
type Registry struct {
	chains []Chain
	index  map[string]int
}

// NewRegistry validates chains and keeps them in the order given.
func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{
		chains: make([]Chain, 0, len(chains)),
		index:  make(map[string]int, len(chains)),
	}
	for _, c := range chains {
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		if c.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidChain)
		}
		if _, dup := r.index[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidChain, c.ID)
		}
		if err := checkEndpoint(c.QueryEndpoint); err != nil {
			return nil, fmt.Errorf("%w: %s query endpoint: %v", ErrInvalidChain, c.ID, err)
		}
		if err := checkEndpoint(c.DisplayEndpoint); err != nil {
			return nil, fmt.Errorf("%w: %s display endpoint: %v", ErrInvalidChain, c.ID, err)
		}
		r.index[c.ID] = len(r.chains)
		r.chains = append(r.chains, c)
	}
	return r, nil
}

func checkEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// List returns the chains in registration order.
func (r *Registry) List() []Chain {
	out := make([]Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

func (r *Registry) Get(id string) (Chain, bool) {
	i, ok := r.index[strings.ToLower(id)]
	if !ok {
		return Chain{}, false
	}
	return r.chains[i], true
}

func (r *Registry) Len() int { return len(r.chains) }

// Filter returns a registry restricted to ids, keeping the original order.
// An empty ids list returns r unchanged.
func (r *Registry) Filter(ids ...string) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := r.index[id]; !ok {
			return nil, fmt.Errorf("%w: unknown chain %q", ErrInvalidChain, id)
		}
		want[id] = struct{}{}
	}
	var kept []Chain
	for _, c := range r.chains {
		if _, ok := want[c.ID]; ok {
			kept = append(kept, c)
		}
	}
	return NewRegistry(kept...)
}
