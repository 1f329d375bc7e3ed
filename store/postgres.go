package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/brojonat/bountypay/bounty"
)

const (
	bountyColumns = `bounty_id, repo_full_name, repo_id, issue_number, sponsor_address,
		resolver_address, token, amount::text AS amount, deadline, network, status, tx_hash,
		resolved_tx_hash, refund_tx_hash, pinned_comment_id, created_at, updated_at`
	claimColumns = `id, bounty_id, pr_number, pr_author_github_id, pr_author_login,
		repo_full_name, status, paid_tx_hash, paid_at, failure_reason, created_at`

	onePaidConstraint = "pr_claims_one_paid_per_bounty"
	uniqueViolation   = "23505"
)

// Postgres is the production Ledger. Status rules are enforced in SQL so
// that concurrent webhook deliveries cannot race past them.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open database.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return bounty.ErrNotFound
	}
	return err
}

func (p *Postgres) GetBounty(ctx context.Context, id string) (*bounty.Bounty, error) {
	var b bounty.Bounty
	err := p.db.GetContext(ctx, &b, `SELECT `+bountyColumns+` FROM bounties WHERE bounty_id = lower($1)`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (p *Postgres) selectBounties(ctx context.Context, where string, args ...interface{}) ([]bounty.Bounty, error) {
	out := []bounty.Bounty{}
	q := `SELECT ` + bountyColumns + ` FROM bounties ` + where + ` ORDER BY created_at, bounty_id`
	if err := p.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("failed to query bounties: %w", err)
	}
	return out, nil
}

func (p *Postgres) FindOpenBounties(ctx context.Context, repoID int64) ([]bounty.Bounty, error) {
	return p.selectBounties(ctx, `WHERE repo_id = $1 AND status = 'open'`, repoID)
}

func (p *Postgres) FindBountyByIssue(ctx context.Context, repoID int64, issueNumber int) (*bounty.Bounty, error) {
	var b bounty.Bounty
	err := p.db.GetContext(ctx, &b, `SELECT `+bountyColumns+` FROM bounties
		WHERE repo_id = $1 AND issue_number = $2
		ORDER BY (status = 'open') DESC, created_at DESC
		LIMIT 1`, repoID, issueNumber)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (p *Postgres) FindBountiesBySponsor(ctx context.Context, sponsor string) ([]bounty.Bounty, error) {
	return p.selectBounties(ctx, `WHERE lower(sponsor_address) = lower($1)`, sponsor)
}

func (p *Postgres) ListBounties(ctx context.Context, status bounty.BountyStatus) ([]bounty.Bounty, error) {
	return p.selectBounties(ctx, `WHERE ($1 = '' OR status = $1)`, string(status))
}

func (p *Postgres) UpsertBounty(ctx context.Context, b bounty.Bounty) (bool, error) {
	status := b.Status
	if status == "" {
		status = bounty.BountyOpen
	}
	var created bool
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO bounties (bounty_id, repo_full_name, repo_id, issue_number, sponsor_address,
			resolver_address, token, amount, deadline, network, status, tx_hash)
		VALUES (lower($1), $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (bounty_id) DO UPDATE SET
			repo_full_name = EXCLUDED.repo_full_name,
			tx_hash = CASE WHEN bounties.tx_hash = '' THEN EXCLUDED.tx_hash ELSE bounties.tx_hash END,
			network = CASE WHEN bounties.network = '' THEN EXCLUDED.network ELSE bounties.network END,
			updated_at = now()
		RETURNING (xmax = 0) AS created`,
		b.ID, b.RepoFullName, b.RepoID, b.IssueNumber, b.SponsorAddress,
		b.ResolverAddress, b.Token, b.Amount, b.Deadline, b.Network, string(status), b.TxHash,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert bounty %s: %w", b.ID, err)
	}
	return created, nil
}

func (p *Postgres) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var ok bool
	if err := p.db.GetContext(ctx, &ok, query, arg); err != nil {
		return false, err
	}
	return ok, nil
}

func (p *Postgres) TransitionBounty(ctx context.Context, id string, to bounty.BountyStatus, txHash string) (bool, error) {
	if !to.Terminal() {
		return false, bounty.ErrInvalidTransition
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE bounties SET
			status = $2::text,
			resolved_tx_hash = CASE WHEN $2::text = 'resolved' THEN $3 ELSE resolved_tx_hash END,
			refund_tx_hash = CASE WHEN $2::text = 'refunded' THEN $3 ELSE refund_tx_hash END,
			updated_at = now()
		WHERE bounty_id = lower($1) AND status = 'open'`, id, string(to), txHash)
	if err != nil {
		return false, fmt.Errorf("failed to update bounty %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	ok, err := p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM bounties WHERE bounty_id = lower($1))`, id)
	if err != nil {
		return false, fmt.Errorf("failed to look up bounty %s: %w", id, err)
	}
	if !ok {
		return false, bounty.ErrNotFound
	}
	return false, nil
}

func (p *Postgres) SetPinnedComment(ctx context.Context, id string, commentID int64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bounties SET pinned_comment_id = $2, updated_at = now() WHERE bounty_id = lower($1)`, id, commentID)
	if err != nil {
		return fmt.Errorf("failed to pin comment on bounty %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return bounty.ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateClaim(ctx context.Context, c bounty.Claim) (bounty.Claim, bool, error) {
	status := c.Status
	if status == "" {
		status = bounty.ClaimPendingWallet
	}
	var stored bounty.Claim
	err := p.db.GetContext(ctx, &stored, `
		INSERT INTO pr_claims (id, bounty_id, pr_number, pr_author_github_id, pr_author_login, repo_full_name, status)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
		ON CONFLICT (bounty_id, pr_number) DO NOTHING
		RETURNING `+claimColumns,
		c.ID, c.BountyID, c.PRNumber, c.PRAuthorGithubID, c.PRAuthorLogin, c.RepoFullName, string(status))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return bounty.Claim{}, false, fmt.Errorf("failed to insert claim for bounty %s PR #%d: %w", c.BountyID, c.PRNumber, err)
	}
	err = p.db.GetContext(ctx, &stored,
		`SELECT `+claimColumns+` FROM pr_claims WHERE bounty_id = lower($1) AND pr_number = $2`, c.BountyID, c.PRNumber)
	if err != nil {
		return bounty.Claim{}, false, fmt.Errorf("failed to load existing claim for bounty %s PR #%d: %w", c.BountyID, c.PRNumber, err)
	}
	return stored, false, nil
}

func (p *Postgres) FindClaimsByPR(ctx context.Context, repoFullName string, prNumber int) ([]bounty.Claim, error) {
	out := []bounty.Claim{}
	err := p.db.SelectContext(ctx, &out, `SELECT `+claimColumns+` FROM pr_claims
		WHERE lower(repo_full_name) = lower($1) AND pr_number = $2
		ORDER BY created_at, id`, repoFullName, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims for %s#%d: %w", repoFullName, prNumber, err)
	}
	return out, nil
}

func (p *Postgres) FindClaimsByBounty(ctx context.Context, bountyID string) ([]bounty.Claim, error) {
	out := []bounty.Claim{}
	err := p.db.SelectContext(ctx, &out, `SELECT `+claimColumns+` FROM pr_claims
		WHERE bounty_id = $1
		ORDER BY created_at, id`, bountyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims for bounty %s: %w", bountyID, err)
	}
	return out, nil
}

// sourceStatuses lists the claim statuses that may move to to.
func sourceStatuses(to bounty.ClaimStatus) []string {
	var from []string
	for _, s := range []bounty.ClaimStatus{bounty.ClaimPendingWallet, bounty.ClaimPaid, bounty.ClaimFailed} {
		if bounty.CanTransition(s, to) {
			from = append(from, string(s))
		}
	}
	return from
}

func (p *Postgres) UpdateClaimStatus(ctx context.Context, claimID string, u bounty.ClaimUpdate) (bool, error) {
	from := sourceStatuses(u.Status)
	if len(from) == 0 {
		return false, bounty.ErrInvalidTransition
	}
	query, args, err := sqlx.In(`
		UPDATE pr_claims SET
			status = ?,
			paid_tx_hash = CASE WHEN ? = '' THEN paid_tx_hash ELSE ? END,
			paid_at = COALESCE(?, paid_at),
			failure_reason = ?
		WHERE id = ? AND status IN (?)`,
		string(u.Status), u.TxHash, u.TxHash, u.PaidAt, u.FailureReason, claimID, from)
	if err != nil {
		return false, fmt.Errorf("failed to build claim update: %w", err)
	}
	res, err := p.db.ExecContext(ctx, p.db.Rebind(query), args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == onePaidConstraint {
			return false, bounty.ErrBountyAlreadyPaid
		}
		return false, fmt.Errorf("failed to update claim %s: %w", claimID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	ok, err := p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pr_claims WHERE id = $1)`, claimID)
	if err != nil {
		return false, fmt.Errorf("failed to look up claim %s: %w", claimID, err)
	}
	if !ok {
		return false, bounty.ErrNotFound
	}
	return false, nil
}

func (p *Postgres) FindWalletByGithubID(ctx context.Context, githubID int64) (*bounty.Wallet, error) {
	var w bounty.Wallet
	err := p.db.GetContext(ctx, &w, `SELECT github_id, github_username, wallet_address, updated_at
		FROM wallet_mappings WHERE github_id = $1`, githubID)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (p *Postgres) UpsertWallet(ctx context.Context, w bounty.Wallet) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO wallet_mappings (github_id, github_username, wallet_address, updated_at)
		VALUES (:github_id, :github_username, :wallet_address, now())
		ON CONFLICT (github_id) DO UPDATE SET
			github_username = EXCLUDED.github_username,
			wallet_address = EXCLUDED.wallet_address,
			updated_at = now()`, w)
	if err != nil {
		return fmt.Errorf("failed to upsert wallet for %d: %w", w.GithubID, err)
	}
	return nil
}

func (p *Postgres) FindUserByGithubID(ctx context.Context, githubID int64) (*bounty.User, error) {
	var u bounty.User
	err := p.db.GetContext(ctx, &u, `SELECT github_id, github_username, email FROM users WHERE github_id = $1`, githubID)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpsertUser stores a user's contact details.
func (p *Postgres) UpsertUser(ctx context.Context, u bounty.User) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO users (github_id, github_username, email)
		VALUES (:github_id, :github_username, :email)
		ON CONFLICT (github_id) DO UPDATE SET
			github_username = EXCLUDED.github_username,
			email = EXCLUDED.email`, u)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", u.GithubID, err)
	}
	return nil
}
