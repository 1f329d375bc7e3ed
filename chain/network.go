package chain

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLegacyGasLimit is used for networks without an EIP-1559 fee market.
	DefaultLegacyGasLimit uint64 = 500_000
	// DefaultConfirmTimeout bounds how long we wait for a receipt.
	DefaultConfirmTimeout = 2 * time.Minute
)

// Network describes one settlement network the escrow contract is deployed on.
type Network struct {
	Alias          string        `yaml:"alias"`
	ChainID        int64         `yaml:"chain_id"`
	RPCURL         string        `yaml:"rpc_url"`
	EscrowAddress  string        `yaml:"escrow_address"`
	Token          Token         `yaml:"token"`
	EIP1559        bool          `yaml:"eip1559"`
	LegacyGasLimit uint64        `yaml:"legacy_gas_limit"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

func (n Network) validate() error {
	if n.Alias == "" {
		return fmt.Errorf("network alias is required")
	}
	if n.ChainID <= 0 {
		return fmt.Errorf("network %s: chain_id must be positive", n.Alias)
	}
	if !common.IsHexAddress(n.EscrowAddress) {
		return fmt.Errorf("network %s: invalid escrow address %q", n.Alias, n.EscrowAddress)
	}
	if !common.IsHexAddress(n.Token.Address) {
		return fmt.Errorf("network %s: invalid token address %q", n.Alias, n.Token.Address)
	}
	return nil
}

func (n Network) gasLimit() uint64 {
	if n.LegacyGasLimit == 0 {
		return DefaultLegacyGasLimit
	}
	return n.LegacyGasLimit
}

func (n Network) confirmTimeout() time.Duration {
	if n.ConfirmTimeout <= 0 {
		return DefaultConfirmTimeout
	}
	return n.ConfirmTimeout
}

// Registry is the set of configured networks keyed by alias. It is built once
// at startup and passed explicitly to whoever needs it.
type Registry struct {
	networks map[string]Network
}

// NewRegistry validates and indexes the given networks.
func NewRegistry(networks ...Network) (*Registry, error) {
	r := &Registry{networks: make(map[string]Network, len(networks))}
	for _, n := range networks {
		if err := n.validate(); err != nil {
			return nil, err
		}
		key := normalizeAlias(n.Alias)
		if _, dup := r.networks[key]; dup {
			return nil, fmt.Errorf("duplicate network alias %s", n.Alias)
		}
		n.Alias = key
		r.networks[key] = n
	}
	return r, nil
}

type registryFile struct {
	Networks []Network `yaml:"networks"`
	Tokens   []Token   `yaml:"tokens"`
}

// LoadRegistry reads a YAML network registry. Extra token entries listed under
// "tokens" are returned so callers can build a TokenTable.
func LoadRegistry(path string) (*Registry, []Token, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read network registry %s: %w", path, err)
	}
	return ParseRegistry(b)
}

// ParseRegistry parses a YAML network registry document.
func ParseRegistry(b []byte) (*Registry, []Token, error) {
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse network registry: %w", err)
	}
	r, err := NewRegistry(f.Networks...)
	if err != nil {
		return nil, nil, err
	}
	return r, f.Tokens, nil
}

// Lookup returns the network registered under alias.
func (r *Registry) Lookup(alias string) (Network, bool) {
	if r == nil || alias == "" {
		return Network{}, false
	}
	n, ok := r.networks[normalizeAlias(alias)]
	return n, ok
}

// Aliases returns the registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.networks))
	for k := range r.networks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Tokens returns the token of every registered network.
func (r *Registry) Tokens() []Token {
	var out []Token
	for _, alias := range r.Aliases() {
		out = append(out, r.networks[alias].Token)
	}
	return out
}

func normalizeAlias(alias string) string {
	return strings.ToUpper(strings.TrimSpace(alias))
}
