package bounty

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/brojonat/bountypay/chain"
)

// Outcome is the final state of one (bounty, claim) settlement attempt.
type Outcome string

const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeWalletMissing    Outcome = "wallet_missing"
	OutcomeWalletInvalid    Outcome = "wallet_invalid"
	OutcomeNetworkMissing   Outcome = "network_missing"
	OutcomeResolved         Outcome = "resolved"
	OutcomeResolutionFailed Outcome = "resolution_failed"
)

// SettlementResult describes what happened to one claim. Expected failures
// live here, not in the returned error.
type SettlementResult struct {
	ClaimID  string      `json:"claim_id"`
	BountyID string      `json:"bounty_id"`
	PRNumber int         `json:"pr_number"`
	Outcome  Outcome     `json:"outcome"`
	TxHash   string      `json:"tx_hash,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Class    *ErrorClass `json:"class,omitempty"`
}

// MergeEvent is a merged pull request.
type MergeEvent struct {
	RepoID         int64
	RepoFullName   string
	PRNumber       int
	AuthorGithubID int64
	AuthorLogin    string
}

// Orchestrator settles the claims of merged pull requests.
type Orchestrator struct {
	service
}

// NewOrchestrator returns an Orchestrator using d.
func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{service: newService(d)}
}

// HandleMerge settles every pending_wallet claim of a merged PR, one at a
// time in discovery order. Claims already paid or failed are left alone so
// a redelivered merge webhook is a no-op. The returned error joins the
// unexpected faults of all claims; a fault on one claim does not stop the rest.
func (o *Orchestrator) HandleMerge(ctx context.Context, ev MergeEvent) ([]SettlementResult, error) {
	o.Logger.Info("pull request merged", "repo", ev.RepoFullName, "repo_id", ev.RepoID, "pr", ev.PRNumber, "author", ev.AuthorLogin)
	return o.settlePR(ctx, ev.RepoFullName, ev.PRNumber, func(c Claim) bool {
		return c.Status == ClaimPendingWallet
	})
}

// ReplayPullRequest reruns settlement for a PR's pending_wallet and failed
// claims. Operators use it after linking a wallet or fixing an RPC outage.
func (o *Orchestrator) ReplayPullRequest(ctx context.Context, repoFullName string, prNumber int) ([]SettlementResult, error) {
	return o.settlePR(ctx, repoFullName, prNumber, func(c Claim) bool {
		return c.Status == ClaimPendingWallet || c.Status == ClaimFailed
	})
}

func (o *Orchestrator) settlePR(ctx context.Context, repoFullName string, prNumber int, eligible func(Claim) bool) ([]SettlementResult, error) {
	claims, err := o.Ledger.FindClaimsByPR(ctx, repoFullName, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find claims for %s#%d: %w", repoFullName, prNumber, err)
	}
	o.Logger.Info("settling pull request", "repo", repoFullName, "pr", prNumber, "claims", len(claims))

	var (
		results []SettlementResult
		errs    []error
	)
	for _, c := range claims {
		if !eligible(c) {
			results = append(results, SettlementResult{
				ClaimID: c.ID, BountyID: c.BountyID, PRNumber: c.PRNumber,
				Outcome: OutcomeSkipped, Reason: "claim " + string(c.Status),
			})
			o.Metrics.settlement(OutcomeSkipped)
			continue
		}
		res, err := o.settleClaim(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %s: %w", c.ID, err))
		}
		o.Metrics.settlement(res.Outcome)
		o.Logger.Info("claim settled", "claim_id", c.ID, "bounty_id", c.BountyID, "pr", c.PRNumber, "outcome", res.Outcome, "reason", res.Reason)
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) settleClaim(ctx context.Context, c Claim) (SettlementResult, error) {
	res := SettlementResult{ClaimID: c.ID, BountyID: c.BountyID, PRNumber: c.PRNumber}

	// Reload: a duplicate delivery or an earlier run may already have settled it.
	b, err := o.Ledger.GetBounty(ctx, c.BountyID)
	if errors.Is(err, ErrNotFound) {
		res.Outcome = OutcomeSkipped
		res.Reason = "bounty not in ledger"
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeSkipped
		res.Reason = "ledger unavailable"
		return res, fmt.Errorf("failed to load bounty %s: %w", c.BountyID, err)
	}
	if b.Status != BountyOpen {
		res.Outcome = OutcomeSkipped
		res.Reason = "bounty " + string(b.Status)
		return res, nil
	}

	w, err := o.Ledger.FindWalletByGithubID(ctx, c.PRAuthorGithubID)
	if errors.Is(err, ErrNotFound) {
		res.Outcome = OutcomeWalletMissing
		ev := o.claimEvent(EventWalletRequired, b, c)
		o.notify(ctx, ev)
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeSkipped
		res.Reason = "ledger unavailable"
		return res, fmt.Errorf("failed to load wallet for %d: %w", c.PRAuthorGithubID, err)
	}
	if _, verr := chain.ValidateAddress(w.WalletAddress); verr != nil {
		return o.fail(ctx, res, b, c, w.WalletAddress, ClassFor(KindWalletInvalid), verr.Error(), EventWalletInvalid)
	}

	n, ok := o.Networks.Lookup(b.Network)
	if !ok {
		reason := "no settlement network configured"
		if b.Network != "" {
			reason = "unknown settlement network " + strconv.Quote(b.Network)
		}
		return o.fail(ctx, res, b, c, w.WalletAddress, ClassFor(KindNetworkMissing), reason, "")
	}

	id, err := chain.ParseBountyID(b.ID)
	if err != nil {
		return o.fail(ctx, res, b, c, w.WalletAddress, ClassifyChainError(err.Error()), err.Error(), EventPaymentFailed)
	}

	rr := o.Chain.ResolveBounty(ctx, n.Alias, id, w.WalletAddress)
	if !rr.Success {
		class := ClassifyChainError(rr.Error)
		if class.Kind == KindNotOpen {
			// Someone else settled it between our reload and the call.
			res.Outcome = OutcomeSkipped
			res.Reason = rr.Error
			res.Class = &class
			return res, nil
		}
		// A concurrent delivery that won the race makes ours revert without
		// a reason, so ask the escrow before calling it a failure.
		if ob, gerr := o.Chain.GetBounty(ctx, n.Alias, id); gerr == nil && ob.Status != chain.StatusOpen {
			res.Outcome = OutcomeSkipped
			res.Reason = "bounty " + ob.Status.String() + " on chain"
			return res, nil
		}
		return o.fail(ctx, res, b, c, w.WalletAddress, class, rr.Error, EventPaymentFailed)
	}

	res.Outcome = OutcomeResolved
	res.TxHash = rr.TxHash
	var errs []error
	if _, err := o.Ledger.TransitionBounty(ctx, b.ID, BountyResolved, rr.TxHash); err != nil {
		errs = append(errs, fmt.Errorf("failed to mark bounty resolved: %w", err))
	}
	paidAt := o.Now().UTC()
	if _, err := o.Ledger.UpdateClaimStatus(ctx, c.ID, ClaimUpdate{Status: ClaimPaid, TxHash: rr.TxHash, PaidAt: &paidAt}); err != nil {
		errs = append(errs, fmt.Errorf("failed to mark claim paid: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		class := ClassFor(KindLedgerWrite)
		o.escalate(ctx, o.escalationFor(class, err.Error(), b, c, w.WalletAddress, map[string]string{"tx_hash": rr.TxHash}))
		res.Reason = err.Error()
		res.Class = &class
	}

	ev := o.claimEvent(EventPaymentSent, b, c)
	ev.TxHash = rr.TxHash
	ev.WalletAddress = w.WalletAddress
	o.notify(ctx, ev)
	return res, errors.Join(errs...)
}

// fail marks the claim failed, escalates when the class says so and tells the
// contributor. The chain is never called after a data-integrity failure. A
// claim another run already moved is left alone and reported as skipped.
func (o *Orchestrator) fail(ctx context.Context, res SettlementResult, b *Bounty, c Claim, wallet string, class ErrorClass, reason string, kind EventKind) (SettlementResult, error) {
	switch class.Kind {
	case KindWalletInvalid:
		res.Outcome = OutcomeWalletInvalid
	case KindNetworkMissing:
		res.Outcome = OutcomeNetworkMissing
	default:
		res.Outcome = OutcomeResolutionFailed
	}
	res.Reason = reason
	res.Class = &class

	var err error
	changed, uerr := o.Ledger.UpdateClaimStatus(ctx, c.ID, ClaimUpdate{Status: ClaimFailed, FailureReason: string(class.Kind)})
	if uerr != nil {
		err = fmt.Errorf("failed to mark claim failed: %w", uerr)
	}
	if uerr == nil && !changed && c.Status == ClaimPendingWallet {
		// Another run moved the claim after we loaded it.
		o.Logger.Info("claim settled elsewhere", "claim_id", c.ID, "bounty_id", b.ID, "reason", reason)
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	if class.Escalate {
		o.escalate(ctx, o.escalationFor(class, reason, b, c, wallet, nil))
	}
	if kind != "" {
		ev := o.claimEvent(kind, b, c)
		ev.Reason = string(class.Kind)
		ev.Retryable = class.Retryable
		ev.WalletAddress = wallet
		o.notify(ctx, ev)
	}
	return res, err
}

func (o *Orchestrator) claimEvent(kind EventKind, b *Bounty, c Claim) Event {
	ev := o.bountyEvent(kind, b)
	ev.PRNumber = c.PRNumber
	ev.Username = c.PRAuthorLogin
	ev.GithubID = c.PRAuthorGithubID
	return ev
}

func (o *Orchestrator) escalationFor(class ErrorClass, msg string, b *Bounty, c Claim, wallet string, extra map[string]string) Escalation {
	ctx := map[string]string{
		"repo":     b.RepoFullName,
		"issue":    strconv.Itoa(b.IssueNumber),
		"claim_id": c.ID,
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return Escalation{
		ErrorType:        class.Kind,
		Message:          msg,
		Severity:         class.Severity,
		BountyID:         b.ID,
		Network:          b.Network,
		RecipientAddress: wallet,
		PRNumber:         c.PRNumber,
		Username:         c.PRAuthorLogin,
		Context:          ctx,
	}
}
