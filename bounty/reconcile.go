package bounty

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/bountypay/chain"
)

// ReconcileResult reports the ledger change made for one bounty.
type ReconcileResult struct {
	BountyID string       `json:"bounty_id"`
	From     BountyStatus `json:"from"`
	To       BountyStatus `json:"to"`
	Changed  bool         `json:"changed"`
	Note     string       `json:"note,omitempty"`
	// PaidClaimID is set when a claim left unpaid after settlement was
	// marked paid.
	PaidClaimID string `json:"paid_claim_id,omitempty"`
}

// Reconciler repairs ledger bounties that lag behind the chain.
type Reconciler struct {
	service
}

// NewReconciler returns a Reconciler using d.
func NewReconciler(d Deps) *Reconciler {
	return &Reconciler{service: newService(d)}
}

func ledgerStatus(s chain.Status) (BountyStatus, bool) {
	switch s {
	case chain.StatusOpen:
		return BountyOpen, true
	case chain.StatusResolved:
		return BountyResolved, true
	case chain.StatusRefunded:
		return BountyRefunded, true
	case chain.StatusCanceled:
		return BountyCanceled, true
	}
	return "", false
}

// ReconcileBounty moves an open ledger bounty to its terminal on-chain status.
// For a bounty already resolved in the ledger it repairs the payee's claim.
func (r *Reconciler) ReconcileBounty(ctx context.Context, bountyID string) (ReconcileResult, error) {
	id, err := chain.ParseBountyID(bountyID)
	if err != nil {
		return ReconcileResult{BountyID: bountyID}, err
	}
	b, n, err := r.loadBounty(ctx, id.Hex())
	if err != nil {
		return ReconcileResult{BountyID: bountyID}, err
	}
	res := ReconcileResult{BountyID: b.ID, From: b.Status, To: b.Status}
	if b.Status == BountyResolved && b.ResolvedTxHash != "" {
		return res, r.adoptPayment(ctx, b, &res)
	}
	if b.Status != BountyOpen {
		return res, nil
	}

	onchain, err := r.Chain.GetBounty(ctx, n.Alias, id)
	if errors.Is(err, chain.ErrBountyNotFound) {
		res.Note = "not on chain"
		r.Logger.Warn("ledger bounty missing on chain", "bounty_id", b.ID, "network", n.Alias)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to read bounty %s on %s: %w", b.ID, n.Alias, err)
	}
	to, ok := ledgerStatus(onchain.Status)
	if !ok {
		res.Note = "unknown on-chain status " + onchain.Status.String()
		return res, nil
	}
	if to == BountyOpen {
		return res, nil
	}

	changed, err := r.Ledger.TransitionBounty(ctx, b.ID, to, "")
	if err != nil {
		return res, fmt.Errorf("failed to move bounty %s to %s: %w", b.ID, to, err)
	}
	res.To = to
	res.Changed = changed
	if !changed {
		return res, nil
	}
	r.Metrics.reconcile(to)
	r.Logger.Info("reconciled bounty", "bounty_id", b.ID, "from", b.Status, "to", to)
	switch to {
	case BountyResolved:
		r.notify(ctx, r.bountyEvent(EventBountyResolved, b))
	case BountyRefunded:
		r.notify(ctx, r.bountyEvent(EventBountyRefunded, b))
	}
	return res, nil
}

// adoptPayment marks the one unpaid claim of a settled bounty paid with the
// recorded settlement transaction. This repairs a claim write lost after the
// chain paid. With several unpaid claims the payee is unknown and the bounty
// is left for an operator.
func (r *Reconciler) adoptPayment(ctx context.Context, b *Bounty, res *ReconcileResult) error {
	claims, err := r.Ledger.FindClaimsByBounty(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load claims for %s: %w", b.ID, err)
	}
	var unpaid []Claim
	for _, c := range claims {
		switch c.Status {
		case ClaimPaid:
			return nil
		case ClaimPendingWallet, ClaimFailed:
			unpaid = append(unpaid, c)
		}
	}
	if len(unpaid) == 0 {
		return nil
	}
	if len(unpaid) > 1 {
		res.Note = fmt.Sprintf("settled by %s but %d claims are unpaid", b.ResolvedTxHash, len(unpaid))
		r.Logger.Warn("cannot attribute bounty payment", "bounty_id", b.ID, "tx", b.ResolvedTxHash, "claims", len(unpaid))
		return nil
	}

	c := unpaid[0]
	paidAt := r.Now().UTC()
	changed, err := r.Ledger.UpdateClaimStatus(ctx, c.ID, ClaimUpdate{Status: ClaimPaid, TxHash: b.ResolvedTxHash, PaidAt: &paidAt})
	if err != nil {
		return fmt.Errorf("failed to mark claim %s paid: %w", c.ID, err)
	}
	if changed {
		res.PaidClaimID = c.ID
		r.Logger.Info("marked claim paid from settled bounty", "bounty_id", b.ID, "claim_id", c.ID, "pr", c.PRNumber, "tx", b.ResolvedTxHash)
	}
	return nil
}

// ReconcileOpen reconciles every open ledger bounty. Per-bounty failures are
// joined and do not stop the sweep. Bounties without a known network are
// reported in the error.
func (r *Reconciler) ReconcileOpen(ctx context.Context) ([]ReconcileResult, error) {
	open, err := r.Ledger.ListBounties(ctx, BountyOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open bounties: %w", err)
	}
	var (
		results []ReconcileResult
		errs    []error
	)
	for _, b := range open {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.ReconcileBounty(ctx, b.ID)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
