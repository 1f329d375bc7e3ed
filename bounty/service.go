package bounty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/bountypay/chain"
	"github.com/ethereum/go-ethereum/common"
)

// ChainGateway is the escrow surface used by the bounty services.
// *chain.Gateway satisfies it.
type ChainGateway interface {
	GetBounty(ctx context.Context, network string, bountyID common.Hash) (*chain.OnChainBounty, error)
	ResolveBounty(ctx context.Context, network string, bountyID common.Hash, recipient string) chain.ResolveResult
	RefundExpired(ctx context.Context, network string, bountyID common.Hash) (*chain.Receipt, error)
}

// Deps are the collaborators shared by the bounty services.
type Deps struct {
	Ledger   Ledger
	Chain    ChainGateway
	Networks *chain.Registry
	Tokens   *chain.TokenTable
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *Metrics
	Now      func() time.Time
}

type service struct {
	Deps
}

func newService(d Deps) service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tokens == nil {
		d.Tokens = chain.NewTokenTable(d.Networks.Tokens()...)
	}
	return service{Deps: d}
}

// notify dispatches an event. Failures are logged and counted, never returned:
// the state the event describes is already committed.
func (s service) notify(ctx context.Context, e Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, e); err != nil {
		s.Metrics.notifyFailure(e.Kind)
		s.Logger.Error("failed to dispatch event", "kind", e.Kind, "key", e.Key(), "error", err)
	}
}

// escalate sends a maintainer escalation. Delivery failures are logged only.
func (s service) escalate(ctx context.Context, e Escalation) {
	s.Metrics.escalation(e)
	s.Logger.Warn("escalating to maintainers",
		"error_type", e.ErrorType, "severity", e.Severity, "bounty_id", e.BountyID, "pr", e.PRNumber, "message", e.Message)
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Escalate(ctx, e); err != nil {
		s.Logger.Error("failed to dispatch escalation", "error_type", e.ErrorType, "error", err)
	}
}

// bountyEvent fills the bounty fields of an event, including the display amount.
func (s service) bountyEvent(kind EventKind, b *Bounty) Event {
	tok := s.Tokens.Lookup(b.Token)
	e := Event{
		Kind:            kind,
		RepoFullName:    b.RepoFullName,
		RepoID:          b.RepoID,
		IssueNumber:     b.IssueNumber,
		BountyID:        b.ID,
		Network:         b.Network,
		Amount:          b.Amount,
		TokenSymbol:     tok.Symbol,
		TokenAddress:    b.Token,
		Deadline:        b.Deadline,
		PinnedCommentID: b.PinnedCommentID,
	}
	if amt, err := chain.ParseAmount(b.Amount); err == nil {
		e.AmountDisplay = chain.FormatAmount(amt, tok.Decimals)
	}
	return e
}

// loadBounty reads a bounty from the ledger and checks its network is known.
func (s service) loadBounty(ctx context.Context, id string) (*Bounty, chain.Network, error) {
	b, err := s.Ledger.GetBounty(ctx, id)
	if err != nil {
		return nil, chain.Network{}, err
	}
	n, ok := s.Networks.Lookup(b.Network)
	if !ok {
		return b, chain.Network{}, fmt.Errorf("bounty %s: %w", id, errNetworkMissing)
	}
	return b, n, nil
}

var errNetworkMissing = errors.New("settlement network not configured")

// IsNetworkMissing reports whether err is a missing network configuration.
func IsNetworkMissing(err error) bool {
	return errors.Is(err, errNetworkMissing)
}

func amountOf(b Bounty) *big.Int {
	v, err := chain.ParseAmount(b.Amount)
	if err != nil {
		return new(big.Int)
	}
	return v
}
