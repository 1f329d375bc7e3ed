package bounty

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Ledger when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBountyAlreadyPaid is returned when a second claim on a bounty would be marked paid.
	ErrBountyAlreadyPaid = errors.New("bounty already has a paid claim")
	// ErrInvalidTransition is returned for a claim or bounty status change that is never allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// BountyStatus is the ledger's copy of the on-chain bounty status.
type BountyStatus string

const (
	BountyOpen     BountyStatus = "open"
	BountyResolved BountyStatus = "resolved"
	BountyRefunded BountyStatus = "refunded"
	BountyCanceled BountyStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s BountyStatus) Terminal() bool {
	return s == BountyResolved || s == BountyRefunded || s == BountyCanceled
}

// ClaimStatus is the payout state of a PR claim.
type ClaimStatus string

const (
	ClaimPendingWallet ClaimStatus = "pending_wallet"
	ClaimPaid          ClaimStatus = "paid"
	ClaimFailed        ClaimStatus = "failed"
)

// CanTransition reports whether a claim may move from one status to another.
// failed -> paid only happens through an operator replay.
func CanTransition(from, to ClaimStatus) bool {
	switch from {
	case ClaimPendingWallet:
		return to == ClaimPaid || to == ClaimFailed
	case ClaimFailed:
		return to == ClaimPaid
	default:
		return false
	}
}

// Bounty is one escrowed reward for a (sponsor, repository, issue) triple.
type Bounty struct {
	ID              string       `json:"bounty_id" db:"bounty_id"`
	RepoFullName    string       `json:"repo_full_name" db:"repo_full_name"`
	RepoID          int64        `json:"repo_id" db:"repo_id"`
	IssueNumber     int          `json:"issue_number" db:"issue_number"`
	SponsorAddress  string       `json:"sponsor_address" db:"sponsor_address"`
	ResolverAddress string       `json:"resolver_address" db:"resolver_address"`
	Token           string       `json:"token" db:"token"`
	Amount          string       `json:"amount" db:"amount"`
	Deadline        int64        `json:"deadline" db:"deadline"`
	Network         string       `json:"network" db:"network"`
	Status          BountyStatus `json:"status" db:"status"`
	TxHash          string       `json:"tx_hash" db:"tx_hash"`
	ResolvedTxHash  string       `json:"resolved_tx_hash,omitempty" db:"resolved_tx_hash"`
	RefundTxHash    string       `json:"refund_tx_hash,omitempty" db:"refund_tx_hash"`
	PinnedCommentID int64        `json:"pinned_comment_id,omitempty" db:"pinned_comment_id"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// Claim links a pull request to a bounty it is believed to resolve.
type Claim struct {
	ID               string      `json:"id" db:"id"`
	BountyID         string      `json:"bounty_id" db:"bounty_id"`
	PRNumber         int         `json:"pr_number" db:"pr_number"`
	PRAuthorGithubID int64       `json:"pr_author_github_id" db:"pr_author_github_id"`
	PRAuthorLogin    string      `json:"pr_author_login" db:"pr_author_login"`
	RepoFullName     string      `json:"repo_full_name" db:"repo_full_name"`
	Status           ClaimStatus `json:"status" db:"status"`
	PaidTxHash       string      `json:"paid_tx_hash,omitempty" db:"paid_tx_hash"`
	PaidAt           *time.Time  `json:"paid_at,omitempty" db:"paid_at"`
	FailureReason    string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// ClaimUpdate is the payload of a claim status transition.
type ClaimUpdate struct {
	Status        ClaimStatus
	TxHash        string
	PaidAt        *time.Time
	FailureReason string
}

// Wallet maps a GitHub identity to a payout address. Latest write wins.
type Wallet struct {
	GithubID       int64     `json:"github_id" db:"github_id"`
	GithubUsername string    `json:"github_username" db:"github_username"`
	WalletAddress  string    `json:"wallet_address" db:"wallet_address"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// User carries the contact details used for email notifications.
type User struct {
	GithubID       int64  `json:"github_id" db:"github_id"`
	GithubUsername string `json:"github_username" db:"github_username"`
	Email          string `json:"email" db:"email"`
}

// Ledger is the persistence surface for bounties, claims and wallets.
// Implementations must enforce the claim transition rules and the single
// paid claim per bounty themselves rather than trusting callers.
type Ledger interface {
	GetBounty(ctx context.Context, id string) (*Bounty, error)
	FindOpenBounties(ctx context.Context, repoID int64) ([]Bounty, error)
	FindBountyByIssue(ctx context.Context, repoID int64, issueNumber int) (*Bounty, error)
	FindBountiesBySponsor(ctx context.Context, sponsor string) ([]Bounty, error)
	// ListBounties returns every bounty, or those with the given status when non-empty.
	ListBounties(ctx context.Context, status BountyStatus) ([]Bounty, error)
	// UpsertBounty inserts b or refreshes its descriptive fields. The status of
	// an existing row is never changed. created is true for a new row.
	UpsertBounty(ctx context.Context, b Bounty) (created bool, err error)
	// TransitionBounty moves an open bounty to a terminal status. It reports
	// false without error when the bounty was not open.
	TransitionBounty(ctx context.Context, id string, to BountyStatus, txHash string) (changed bool, err error)
	SetPinnedComment(ctx context.Context, id string, commentID int64) error

	// CreateClaim is idempotent on (BountyID, PRNumber) and returns the stored claim.
	CreateClaim(ctx context.Context, c Claim) (stored Claim, created bool, err error)
	// FindClaimsByPR returns claims in creation order.
	FindClaimsByPR(ctx context.Context, repoFullName string, prNumber int) ([]Claim, error)
	// FindClaimsByBounty returns the claims on one bounty in creation order.
	FindClaimsByBounty(ctx context.Context, bountyID string) ([]Claim, error)
	UpdateClaimStatus(ctx context.Context, claimID string, u ClaimUpdate) (changed bool, err error)

	FindWalletByGithubID(ctx context.Context, githubID int64) (*Wallet, error)
	UpsertWallet(ctx context.Context, w Wallet) error
	FindUserByGithubID(ctx context.Context, githubID int64) (*User, error)
	UpsertUser(ctx context.Context, u User) error
}
