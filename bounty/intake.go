package bounty

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/bountypay/chain"
	"github.com/google/uuid"
)

// PullRequestEvent is an opened, edited or reopened pull request.
type PullRequestEvent struct {
	RepoID         int64
	RepoFullName   string
	PRNumber       int
	Title          string
	Body           string
	AuthorGithubID int64
	AuthorLogin    string
}

// IntakeResult summarises what a pull request event changed.
type IntakeResult struct {
	Match   MatchResult `json:"-"`
	Created []Claim     `json:"created"`
	Existed []Claim     `json:"existed"`
	Suggest []int       `json:"suggest,omitempty"`
}

// IssueEvent is an opened issue.
type IssueEvent struct {
	RepoID       int64
	RepoFullName string
	IssueNumber  int
}

// RegisterInput is the second phase of bounty creation, sent after the
// sponsor's createBounty transaction is mined.
type RegisterInput struct {
	Network      string `json:"network"`
	BountyID     string `json:"bounty_id"`
	RepoFullName string `json:"repo_full_name"`
	RepoID       int64  `json:"repo_id"`
	IssueNumber  int    `json:"issue_number"`
	TxHash       string `json:"tx_hash"`
}

// ErrBountyMismatch is returned when the on-chain bounty does not describe
// the repository issue it is being registered for.
var ErrBountyMismatch = errors.New("on-chain bounty does not match registration")

// Intake turns GitHub activity and sponsor registrations into ledger records.
type Intake struct {
	service
}

// NewIntake returns an Intake using d.
func NewIntake(d Deps) *Intake {
	return &Intake{service: newService(d)}
}

// HandlePullRequest matches a PR against the repository's open bounties and
// records one claim per matched bounty. Events are only emitted for claims
// this call created, so redelivery stays quiet. A claim that cannot be
// written is escalated since it would block payout on merge.
func (in *Intake) HandlePullRequest(ctx context.Context, ev PullRequestEvent) (IntakeResult, error) {
	var res IntakeResult
	open, err := in.Ledger.FindOpenBounties(ctx, ev.RepoID)
	if err != nil {
		return res, fmt.Errorf("failed to load open bounties for %s: %w", ev.RepoFullName, err)
	}
	res.Match = Match(ev.Title, ev.Body, ev.RepoFullName, open)

	if res.Match.Suggest {
		sugg := Event{
			Kind:         EventOpenBounties,
			RepoFullName: ev.RepoFullName,
			RepoID:       ev.RepoID,
			PRNumber:     ev.PRNumber,
			Username:     ev.AuthorLogin,
			GithubID:     ev.AuthorGithubID,
		}
		for _, b := range open {
			res.Suggest = append(res.Suggest, b.IssueNumber)
		}
		sugg.OpenIssues = res.Suggest
		in.notify(ctx, sugg)
		return res, nil
	}

	var errs []error
	for i := range res.Match.Bounties {
		b := res.Match.Bounties[i]
		stored, created, err := in.Ledger.CreateClaim(ctx, Claim{
			ID:               uuid.NewString(),
			BountyID:         b.ID,
			PRNumber:         ev.PRNumber,
			PRAuthorGithubID: ev.AuthorGithubID,
			PRAuthorLogin:    ev.AuthorLogin,
			RepoFullName:     ev.RepoFullName,
			Status:           ClaimPendingWallet,
		})
		if err != nil {
			class := ClassFor(KindClaimWrite)
			in.escalate(ctx, Escalation{
				ErrorType: class.Kind,
				Message:   err.Error(),
				Severity:  class.Severity,
				BountyID:  b.ID,
				Network:   b.Network,
				PRNumber:  ev.PRNumber,
				Username:  ev.AuthorLogin,
				Context:   map[string]string{"repo": ev.RepoFullName},
			})
			errs = append(errs, fmt.Errorf("failed to record claim for bounty %s: %w", b.ID, err))
			continue
		}
		if !created {
			res.Existed = append(res.Existed, stored)
			continue
		}
		res.Created = append(res.Created, stored)
		in.Metrics.claim(res.Match.Fallback)
		in.Logger.Info("claim recorded", "bounty_id", b.ID, "repo", ev.RepoFullName, "pr", ev.PRNumber, "fallback", res.Match.Fallback)

		linked := in.bountyEvent(EventPrLinked, &b)
		linked.PRNumber = ev.PRNumber
		linked.Username = ev.AuthorLogin
		linked.GithubID = ev.AuthorGithubID
		in.notify(ctx, linked)

		ready := linked
		ready.Kind = EventWalletRequired
		w, err := in.Ledger.FindWalletByGithubID(ctx, ev.AuthorGithubID)
		switch {
		case err == nil:
			if _, verr := chain.ValidateAddress(w.WalletAddress); verr == nil {
				ready.Kind = EventPrReady
				ready.WalletAddress = w.WalletAddress
			}
		case !errors.Is(err, ErrNotFound):
			in.Logger.Error("failed to look up wallet", "github_id", ev.AuthorGithubID, "error", err)
		}
		in.notify(ctx, ready)
	}
	return res, errors.Join(errs...)
}

// HandleIssueOpened announces a bounty that was registered before its issue
// comment could be posted.
func (in *Intake) HandleIssueOpened(ctx context.Context, ev IssueEvent) error {
	b, err := in.Ledger.FindBountyByIssue(ctx, ev.RepoID, ev.IssueNumber)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find bounty for %s#%d: %w", ev.RepoFullName, ev.IssueNumber, err)
	}
	if b.PinnedCommentID != 0 || b.Status != BountyOpen {
		return nil
	}
	in.notify(ctx, in.bountyEvent(EventBountyCreated, b))
	return nil
}

// RegisterBounty records a bounty the sponsor funded on chain. The chain is
// the source of truth: the bounty must be Open and must describe the given
// repository and issue.
func (in *Intake) RegisterBounty(ctx context.Context, req RegisterInput) (*Bounty, error) {
	n, ok := in.Networks.Lookup(req.Network)
	if !ok {
		return nil, fmt.Errorf("network %q: %w", req.Network, errNetworkMissing)
	}
	id, err := chain.ParseBountyID(req.BountyID)
	if err != nil {
		return nil, err
	}
	if req.RepoID <= 0 || req.IssueNumber <= 0 || !strings.Contains(req.RepoFullName, "/") {
		return nil, fmt.Errorf("repository id, full name and issue number are required")
	}

	onchain, err := in.Chain.GetBounty(ctx, n.Alias, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounty %s on %s: %w", id.Hex(), n.Alias, err)
	}
	if onchain.Status != chain.StatusOpen {
		return nil, fmt.Errorf("%w: status %s", ErrBountyMismatch, onchain.Status)
	}
	if onchain.RepoIDHash != chain.RepoIDHash(req.RepoID) {
		return nil, fmt.Errorf("%w: repository hash differs", ErrBountyMismatch)
	}
	if onchain.IssueNumber != uint64(req.IssueNumber) {
		return nil, fmt.Errorf("%w: issue %d on chain", ErrBountyMismatch, onchain.IssueNumber)
	}
	if chain.DeriveBountyID(onchain.Sponsor, onchain.RepoIDHash, onchain.IssueNumber) != id {
		return nil, fmt.Errorf("%w: id is not derived from sponsor, repository and issue", ErrBountyMismatch)
	}

	b := Bounty{
		ID:              id.Hex(),
		RepoFullName:    req.RepoFullName,
		RepoID:          req.RepoID,
		IssueNumber:     req.IssueNumber,
		SponsorAddress:  onchain.Sponsor.Hex(),
		ResolverAddress: onchain.Resolver.Hex(),
		Token:           onchain.Token.Hex(),
		Amount:          onchain.Amount.String(),
		Deadline:        int64(onchain.Deadline),
		Network:         n.Alias,
		Status:          BountyOpen,
		TxHash:          strings.TrimSpace(req.TxHash),
	}
	created, err := in.Ledger.UpsertBounty(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to store bounty %s: %w", b.ID, err)
	}
	stored, err := in.Ledger.GetBounty(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload bounty %s: %w", b.ID, err)
	}
	if created {
		in.Logger.Info("bounty registered", "bounty_id", b.ID, "repo", b.RepoFullName, "issue", b.IssueNumber, "network", n.Alias)
		in.notify(ctx, in.bountyEvent(EventBountyCreated, stored))
	}
	return stored, nil
}

