package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/bountypay/chain"
)

// IneligibleReason says why a refund is not possible right now.
type IneligibleReason string

const (
	ReasonNotFound    IneligibleReason = "not-found"
	ReasonNotOpen     IneligibleReason = "not-open"
	ReasonNotExpired  IneligibleReason = "not-expired"
	ReasonWrongWallet IneligibleReason = "wrong-wallet"
)

// Eligibility is a fresh on-chain refund check.
type Eligibility struct {
	BountyID string           `json:"bounty_id"`
	Eligible bool             `json:"eligible"`
	Reason   IneligibleReason `json:"reason,omitempty"`
	Status   string           `json:"status,omitempty"`
	Sponsor  string           `json:"sponsor,omitempty"`
	Deadline uint64           `json:"deadline,omitempty"`
}

// RefundResult is the outcome of a custodial refund.
type RefundResult struct {
	Eligibility
	TxHash string `json:"tx_hash,omitempty"`
}

// ErrNotRefunded is returned by RecordRefund when the chain has not refunded the bounty.
var ErrNotRefunded = errors.New("bounty is not refunded on chain")

// RefundResolver lets sponsors reclaim expired bounties.
type RefundResolver struct {
	service
}

// NewRefundResolver returns a RefundResolver using d.
func NewRefundResolver(d Deps) *RefundResolver {
	return &RefundResolver{service: newService(d)}
}

// ListRefundable returns the sponsor's open bounties whose deadline has
// passed according to the ledger. Each must still be checked on chain.
func (r *RefundResolver) ListRefundable(ctx context.Context, sponsor string) ([]Bounty, error) {
	all, err := r.Ledger.FindBountiesBySponsor(ctx, sponsor)
	if err != nil {
		return nil, fmt.Errorf("failed to list bounties for %s: %w", sponsor, err)
	}
	now := r.Now().Unix()
	out := []Bounty{}
	for _, b := range all {
		if b.Status == BountyOpen && b.Deadline < now {
			out = append(out, b)
		}
	}
	return out, nil
}

// CheckEligibility reads the bounty on chain and reports whether caller can
// refund it. Reasons are checked in order: not-found, not-open, not-expired,
// wrong-wallet.
func (r *RefundResolver) CheckEligibility(ctx context.Context, bountyID, caller string) (Eligibility, error) {
	el := Eligibility{BountyID: bountyID}
	callerAddr, err := chain.ValidateAddress(caller)
	if err != nil {
		return el, fmt.Errorf("caller: %w", err)
	}
	id, err := chain.ParseBountyID(bountyID)
	if err != nil {
		return el, err
	}
	b, n, err := r.loadBounty(ctx, id.Hex())
	if errors.Is(err, ErrNotFound) {
		el.Reason = ReasonNotFound
		return el, nil
	}
	if err != nil {
		return el, err
	}

	onchain, err := r.Chain.GetBounty(ctx, n.Alias, id)
	if errors.Is(err, chain.ErrBountyNotFound) {
		el.Reason = ReasonNotFound
		return el, nil
	}
	if err != nil {
		return el, fmt.Errorf("failed to read bounty %s on %s: %w", b.ID, n.Alias, err)
	}
	el.Status = onchain.Status.String()
	el.Sponsor = onchain.Sponsor.Hex()
	el.Deadline = onchain.Deadline

	switch {
	case onchain.Status != chain.StatusOpen:
		el.Reason = ReasonNotOpen
	case !onchain.Expired(r.Now().Unix()):
		el.Reason = ReasonNotExpired
	case onchain.Sponsor != callerAddr:
		el.Reason = ReasonWrongWallet
	default:
		el.Eligible = true
	}
	return el, nil
}

// Refund runs the custodial refund: verify, call refundExpired, mark the
// ledger refunded and emit BountyRefunded. It is never retried automatically.
func (r *RefundResolver) Refund(ctx context.Context, bountyID, caller string) (RefundResult, error) {
	el, err := r.CheckEligibility(ctx, bountyID, caller)
	res := RefundResult{Eligibility: el}
	if err != nil {
		r.Metrics.refund("error")
		return res, err
	}
	if !el.Eligible {
		r.Metrics.refund("ineligible")
		return res, nil
	}
	id, err := chain.ParseBountyID(bountyID)
	if err != nil {
		return res, err
	}
	b, n, err := r.loadBounty(ctx, id.Hex())
	if err != nil {
		return res, err
	}
	receipt, err := r.Chain.RefundExpired(ctx, n.Alias, id)
	if err != nil {
		class := ClassifyChainError(err.Error())
		r.Metrics.refund("failed")
		r.Logger.Error("refund failed", "bounty_id", b.ID, "network", n.Alias, "kind", class.Kind, "error", err)
		return res, fmt.Errorf("refund of %s failed (%s): %w", b.ID, class.Kind, err)
	}
	r.Metrics.refund("refunded")
	res.TxHash = receipt.TxHash

	if _, err := r.Ledger.TransitionBounty(ctx, b.ID, BountyRefunded, receipt.TxHash); err != nil {
		class := ClassFor(KindLedgerWrite)
		r.escalate(ctx, Escalation{
			ErrorType: class.Kind,
			Message:   err.Error(),
			Severity:  class.Severity,
			BountyID:  b.ID,
			Network:   b.Network,
			Context:   map[string]string{"tx_hash": receipt.TxHash, "repo": b.RepoFullName},
		})
		return res, fmt.Errorf("refund %s succeeded on chain but ledger update failed: %w", receipt.TxHash, err)
	}
	ev := r.bountyEvent(EventBountyRefunded, b)
	ev.TxHash = receipt.TxHash
	r.notify(ctx, ev)
	return res, nil
}

// RecordRefund reconciles the ledger after a sponsor refunded from their own
// wallet. The chain must report the bounty Refunded.
func (r *RefundResolver) RecordRefund(ctx context.Context, bountyID, txHash string) (*Bounty, error) {
	id, err := chain.ParseBountyID(bountyID)
	if err != nil {
		return nil, err
	}
	b, n, err := r.loadBounty(ctx, id.Hex())
	if err != nil {
		return nil, err
	}
	onchain, err := r.Chain.GetBounty(ctx, n.Alias, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounty %s on %s: %w", b.ID, n.Alias, err)
	}
	if onchain.Status != chain.StatusRefunded {
		return nil, fmt.Errorf("%w: status %s", ErrNotRefunded, onchain.Status)
	}
	changed, err := r.Ledger.TransitionBounty(ctx, b.ID, BountyRefunded, strings.TrimSpace(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to mark bounty %s refunded: %w", b.ID, err)
	}
	if changed {
		r.Metrics.refund("recorded")
		ev := r.bountyEvent(EventBountyRefunded, b)
		ev.TxHash = strings.TrimSpace(txHash)
		r.notify(ctx, ev)
	}
	return r.Ledger.GetBounty(ctx, b.ID)
}
