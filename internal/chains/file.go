package chains

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk chain list:
//
//	[[chains]]
//	id = "juno"
//	query_endpoint = "https://lcd-juno.example/cosmos/gov/v1beta1/proposals"
//	display_endpoint = "https://ping.pub/juno/gov"
type fileConfig struct {
	Chains []fileChain `toml:"chains"`
}

type fileChain struct {
	ID              string `toml:"id"`
	QueryEndpoint   string `toml:"query_endpoint"`
	DisplayEndpoint string `toml:"display_endpoint"`
}

// LoadFile reads a TOML chain list. Chains keep their file order.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("read chains file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML chain list.
func Parse(data []byte) (*Registry, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse chains: %w", err)
	}
	if len(fc.Chains) == 0 {
		return nil, fmt.Errorf("%w: no chains configured", ErrInvalidChain)
	}
	list := make([]Chain, 0, len(fc.Chains))
	for _, c := range fc.Chains {
		list = append(list, Chain(c))
	}
	return NewRegistry(list...)
}
