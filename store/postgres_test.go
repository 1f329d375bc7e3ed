package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/bountypay/bounty"
)

const testBountyID = "0x9f2c1e0d8b7a6f5e4d3c2b1a09f8e7d6c5b4a39281706f5e4d3c2b1a09f8e7d6"

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgres(sqlx.NewDb(db, "pgx")), mock
}

var claimCols = []string{"id", "bounty_id", "pr_number", "pr_author_github_id", "pr_author_login",
	"repo_full_name", "status", "paid_tx_hash", "paid_at", "failure_reason", "created_at"}

var bountyCols = []string{"bounty_id", "repo_full_name", "repo_id", "issue_number", "sponsor_address",
	"resolver_address", "token", "amount", "deadline", "network", "status", "tx_hash",
	"resolved_tx_hash", "refund_tx_hash", "pinned_comment_id", "created_at", "updated_at"}

func TestPostgresCreateClaim(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	claim := bounty.Claim{
		ID:               "5b7c2d1e-0f3a-4b8c-9d6e-1a2b3c4d5e6f",
		BountyID:         testBountyID,
		PRNumber:         42,
		PRAuthorGithubID: 1001,
		PRAuthorLogin:    "octocat",
		RepoFullName:     "acme/widgets",
	}

	t.Run("new claim", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO pr_claims").
			WithArgs(claim.ID, testBountyID, 42, int64(1001), "octocat", "acme/widgets", "pending_wallet").
			WillReturnRows(sqlmock.NewRows(claimCols).
				AddRow(claim.ID, testBountyID, 42, 1001, "octocat", "acme/widgets", "pending_wallet", "", nil, "", created))

		stored, ok, err := s.CreateClaim(ctx, claim)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, bounty.ClaimPendingWallet, stored.Status)
		assert.Equal(t, created, stored.CreatedAt)
	})

	t.Run("duplicate returns the stored claim", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO pr_claims").WillReturnRows(sqlmock.NewRows(claimCols))
		mock.ExpectQuery("SELECT (.+) FROM pr_claims WHERE bounty_id").
			WithArgs(testBountyID, 42).
			WillReturnRows(sqlmock.NewRows(claimCols).
				AddRow("earlier-claim", testBountyID, 42, 1001, "octocat", "acme/widgets", "failed", "", nil, "rpc-failure", created))

		stored, ok, err := s.CreateClaim(ctx, claim)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "earlier-claim", stored.ID)
		assert.Equal(t, bounty.ClaimFailed, stored.Status)
	})
}

func TestPostgresFindClaimsByBounty(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM pr_claims WHERE bounty_id = \\$1 ORDER BY created_at, id").
		WithArgs(testBountyID).
		WillReturnRows(sqlmock.NewRows(claimCols).
			AddRow("first", testBountyID, 40, 1001, "octocat", "acme/widgets", "pending_wallet", "", nil, "", created).
			AddRow("second", testBountyID, 41, 1002, "hubot", "acme/widgets", "failed", "", nil, "rpc-failure", created))

	claims, err := s.FindClaimsByBounty(ctx, testBountyID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "first", claims[0].ID)
	assert.Equal(t, bounty.ClaimFailed, claims[1].Status)
	assert.Equal(t, "rpc-failure", claims[1].FailureReason)
}

func TestPostgresUpdateClaimStatus(t *testing.T) {
	ctx := context.Background()
	paidAt := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	paid := bounty.ClaimUpdate{Status: bounty.ClaimPaid, TxHash: "0xabc", PaidAt: &paidAt}

	t.Run("paid from pending or failed", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE pr_claims SET`).
			WithArgs("paid", "0xabc", "0xabc", sqlmock.AnyArg(), "", "claim-1", "pending_wallet", "failed").
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, err := s.UpdateClaimStatus(ctx, "claim-1", paid)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("second paid claim rejected", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE pr_claims SET`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "pr_claims_one_paid_per_bounty"})

		_, err := s.UpdateClaimStatus(ctx, "claim-2", paid)
		assert.ErrorIs(t, err, bounty.ErrBountyAlreadyPaid)
	})

	t.Run("terminal claim is a no-op", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE pr_claims SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("claim-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		changed, err := s.UpdateClaimStatus(ctx, "claim-1", paid)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("unknown claim", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE pr_claims SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.UpdateClaimStatus(ctx, "missing", paid)
		assert.ErrorIs(t, err, bounty.ErrNotFound)
	})

	t.Run("no transition into pending", func(t *testing.T) {
		s, _ := newMockStore(t)
		_, err := s.UpdateClaimStatus(ctx, "claim-1", bounty.ClaimUpdate{Status: bounty.ClaimPendingWallet})
		assert.ErrorIs(t, err, bounty.ErrInvalidTransition)
	})
}

func TestPostgresBounties(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("upsert reports creation", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO bounties").
			WillReturnRows(sqlmock.NewRows([]string{"created"}).AddRow(true))

		created, err := s.UpsertBounty(ctx, bounty.Bounty{ID: testBountyID, Amount: "25000000", Network: "BASE_SEPOLIA"})
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("get missing bounty", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT (.+) FROM bounties WHERE bounty_id").WithArgs(testBountyID).
			WillReturnRows(sqlmock.NewRows(bountyCols))

		_, err := s.GetBounty(ctx, testBountyID)
		assert.ErrorIs(t, err, bounty.ErrNotFound)
	})

	t.Run("sponsor lookup", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`WHERE lower\(sponsor_address\) = lower\(\$1\)`).
			WithArgs("0xABC").
			WillReturnRows(sqlmock.NewRows(bountyCols).AddRow(
				testBountyID, "acme/widgets", 77, 12, "0xabc", "0xdef", "0x036cbd53842c5426634e7929541ec2318f3dcf7e",
				"25000000", 1700000000, "BASE_SEPOLIA", "open", "0x01", "", "", 0, now, now))

		found, err := s.FindBountiesBySponsor(ctx, "0xABC")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "25000000", found[0].Amount)
		assert.Equal(t, bounty.BountyOpen, found[0].Status)
		assert.Equal(t, 12, found[0].IssueNumber)
	})

	t.Run("transition only from open", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE bounties SET").WithArgs(testBountyID, "resolved", "0xfeed").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE bounties SET").WithArgs(testBountyID, "refunded", "0xbeef").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs(testBountyID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		changed, err := s.TransitionBounty(ctx, testBountyID, bounty.BountyResolved, "0xfeed")
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.TransitionBounty(ctx, testBountyID, bounty.BountyRefunded, "0xbeef")
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = s.TransitionBounty(ctx, testBountyID, bounty.BountyOpen, "")
		assert.ErrorIs(t, err, bounty.ErrInvalidTransition)
	})

	t.Run("pin on missing bounty", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE bounties SET pinned_comment_id").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, s.SetPinnedComment(ctx, testBountyID, 9), bounty.ErrNotFound)
	})
}

func TestPostgresWallets(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO wallet_mappings").
		WithArgs(int64(1001), "octocat", "0x1111111111111111111111111111111111111111").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM wallet_mappings").WithArgs(int64(2002)).
		WillReturnRows(sqlmock.NewRows([]string{"github_id", "github_username", "wallet_address", "updated_at"}))

	require.NoError(t, s.UpsertWallet(ctx, bounty.Wallet{
		GithubID:       1001,
		GithubUsername: "octocat",
		WalletAddress:  "0x1111111111111111111111111111111111111111",
	}))
	_, err := s.FindWalletByGithubID(ctx, 2002)
	assert.ErrorIs(t, err, bounty.ErrNotFound)
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := migrationFS.ReadFile("migrations/0001_init.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "pr_claims_one_paid_per_bounty")
	assert.Contains(t, string(up), "NUMERIC(78,0)")

	_, err = migrationFS.ReadFile("migrations/0001_init.down.sql")
	require.NoError(t, err)
}
