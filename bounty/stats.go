package bounty

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/brojonat/bountypay/chain"
)

// overallPrecision is the number of fractional digits used for cross-token totals.
const overallPrecision = 18

// TokenStats aggregates the bounties of one token. Raw values are in the
// token's smallest unit; the display values are normalised once from them.
type TokenStats struct {
	Token         string   `json:"token"`
	Symbol        string   `json:"symbol,omitempty"`
	Decimals      int      `json:"decimals"`
	Count         int      `json:"count"`
	ResolvedCount int      `json:"resolved_count"`
	SuccessRate   float64  `json:"success_rate"`
	TotalValueRaw string   `json:"total_value_raw"`
	TVLRaw        string   `json:"tvl_raw"`
	TotalValue    string   `json:"total_value"`
	TVL           string   `json:"tvl"`
	AvgAmount     string   `json:"avg_amount"`
	tvl           *big.Rat
}

// Stats is the aggregate view over a set of bounties.
type Stats struct {
	Count         int          `json:"count"`
	ResolvedCount int          `json:"resolved_count"`
	SuccessRate   float64      `json:"success_rate"`
	TVL           string       `json:"tvl"`
	Tokens        []TokenStats `json:"tokens"`
	tvl           *big.Rat
}

// TVLRat returns the exact overall normalised TVL.
func (s Stats) TVLRat() *big.Rat {
	if s.tvl == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(s.tvl)
}

// TVLRat returns the exact normalised TVL of the token.
func (t TokenStats) TVLRat() *big.Rat {
	if t.tvl == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(t.tvl)
}

type tokenAcc struct {
	count, resolved int
	total, tvl      *big.Int
}

// Aggregate groups bounties by token contract address. Sums stay integral in
// smallest units and are normalised with the token's decimals at the end, so
// the overall TVL is exactly the sum of the per-token TVLs.
func Aggregate(bounties []Bounty, tokens *chain.TokenTable) Stats {
	accs := map[string]*tokenAcc{}
	for _, b := range bounties {
		key := strings.ToLower(b.Token)
		a, ok := accs[key]
		if !ok {
			a = &tokenAcc{total: new(big.Int), tvl: new(big.Int)}
			accs[key] = a
		}
		amt := amountOf(b)
		a.count++
		a.total.Add(a.total, amt)
		switch b.Status {
		case BountyOpen:
			a.tvl.Add(a.tvl, amt)
		case BountyResolved:
			a.resolved++
		}
	}

	keys := make([]string, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := Stats{Tokens: []TokenStats{}, tvl: new(big.Rat)}
	for _, k := range keys {
		a := accs[k]
		meta := tokens.Lookup(k)
		ts := TokenStats{
			Token:         k,
			Symbol:        meta.Symbol,
			Decimals:      meta.Decimals,
			Count:         a.count,
			ResolvedCount: a.resolved,
			SuccessRate:   rate(a.resolved, a.count),
			TotalValueRaw: a.total.String(),
			TVLRaw:        a.tvl.String(),
			tvl:           chain.Normalize(a.tvl, meta.Decimals),
		}
		total := chain.Normalize(a.total, meta.Decimals)
		ts.TotalValue = chain.FormatRat(total, meta.Decimals)
		ts.TVL = chain.FormatRat(ts.tvl, meta.Decimals)
		avg := new(big.Rat).Quo(total, new(big.Rat).SetInt64(int64(a.count)))
		ts.AvgAmount = chain.FormatRat(avg, meta.Decimals)

		s.Count += a.count
		s.ResolvedCount += a.resolved
		s.tvl.Add(s.tvl, ts.tvl)
		s.Tokens = append(s.Tokens, ts)
	}
	s.SuccessRate = rate(s.ResolvedCount, s.Count)
	s.TVL = chain.FormatRat(s.tvl, overallPrecision)
	return s
}

func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// LedgerStats aggregates every bounty in the ledger, or only the sponsor's
// bounties when sponsor is non-empty.
func LedgerStats(ctx context.Context, l Ledger, tokens *chain.TokenTable, sponsor string) (Stats, error) {
	var (
		bounties []Bounty
		err      error
	)
	if sponsor != "" {
		bounties, err = l.FindBountiesBySponsor(ctx, sponsor)
	} else {
		bounties, err = l.ListBounties(ctx, "")
	}
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load bounties: %w", err)
	}
	return Aggregate(bounties, tokens), nil
}
