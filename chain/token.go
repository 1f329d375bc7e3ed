package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// DefaultTokenDecimals applies to tokens missing from the table.
const DefaultTokenDecimals = 18

// Token is ERC-20 metadata for a contract address.
type Token struct {
	Address  string `yaml:"address" json:"address"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// TokenTable resolves token metadata by contract address. Symbols are never
// used as keys: an unlisted or spoofed symbol must not change precision.
type TokenTable struct {
	byAddress map[string]Token
}

// NewTokenTable indexes tokens by lower-cased address. Later entries win.
func NewTokenTable(tokens ...Token) *TokenTable {
	t := &TokenTable{byAddress: make(map[string]Token, len(tokens))}
	for _, tok := range tokens {
		if tok.Address == "" {
			continue
		}
		t.byAddress[strings.ToLower(tok.Address)] = tok
	}
	return t
}

// Lookup returns the metadata for address, falling back to 18 decimals and an
// empty symbol when the token is unknown.
func (t *TokenTable) Lookup(address string) Token {
	if t != nil {
		if tok, ok := t.byAddress[strings.ToLower(address)]; ok {
			return tok
		}
	}
	return Token{Address: address, Decimals: DefaultTokenDecimals}
}

// ParseAmount parses a base-10 integer string in the token's smallest unit.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	return v, nil
}

// Normalize converts a smallest-unit amount to an exact rational in whole
// tokens. It is the only place precision is applied.
func Normalize(amount *big.Int, decimals int) *big.Rat {
	if amount == nil {
		return new(big.Rat)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(amount, denom)
}

// FormatAmount renders a smallest-unit amount with the token's precision and
// trailing zeros trimmed, e.g. 500000000 with 6 decimals is "500".
func FormatAmount(amount *big.Int, decimals int) string {
	return FormatRat(Normalize(amount, decimals), decimals)
}

// FormatRat renders r with at most prec fractional digits.
func FormatRat(r *big.Rat, prec int) string {
	s := r.FloatString(prec)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseDisplayAmount converts a whole-token amount such as "25.5" to the
// smallest unit. More fractional digits than decimals is an error.
func ParseDisplayAmount(s string, decimals int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", s)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}
