package bounty_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
)

func TestHandlePullRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("redelivery is quiet", func(t *testing.T) {
		f := newFixture(t)
		f.seedBounty(t, 12, "1000000", f.now.Add(time.Hour))

		first := f.openPR(t, 20, "fixes #12")
		assert.Len(t, first.Created, 1)
		assert.False(t, first.Match.Fallback)
		assert.Equal(t, []bounty.EventKind{bounty.EventPrLinked, bounty.EventWalletRequired}, f.notes.kinds())

		again := f.openPR(t, 20, "fixes #12 (edited)")
		assert.Empty(t, again.Created)
		assert.Len(t, again.Existed, 1)
		assert.Len(t, f.notes.events, 2)
	})

	t.Run("lone bounty fallback", func(t *testing.T) {
		f := newFixture(t)
		f.seedBounty(t, 12, "1000000", f.now.Add(time.Hour))
		res := f.openPR(t, 21, "no reference at all")
		assert.True(t, res.Match.Fallback)
		assert.Len(t, res.Created, 1)
	})

	t.Run("several bounties and no reference suggests", func(t *testing.T) {
		f := newFixture(t)
		f.seedBounty(t, 12, "1000000", f.now.Add(time.Hour))
		f.seedBounty(t, 13, "1000000", f.now.Add(time.Hour))

		res := f.openPR(t, 22, "refactor only")
		assert.Empty(t, res.Created)
		assert.ElementsMatch(t, []int{12, 13}, res.Suggest)

		require.Equal(t, 1, f.notes.count(bounty.EventOpenBounties))
		ev := f.notes.last(bounty.EventOpenBounties)
		assert.Equal(t, 22, ev.PRNumber)
		assert.ElementsMatch(t, []int{12, 13}, ev.OpenIssues)

		claims, err := f.ledger.FindClaimsByPR(ctx, repoFullName, 22)
		require.NoError(t, err)
		assert.Empty(t, claims)
	})

	t.Run("claim write failure escalates", func(t *testing.T) {
		f := newFixture(t)
		f.seedBounty(t, 12, "1000000", f.now.Add(time.Hour))
		deps := f.deps
		deps.Ledger = &failingLedger{Memory: f.ledger, failClaimWrite: true}

		_, err := bounty.NewIntake(deps).HandlePullRequest(ctx, bounty.PullRequestEvent{
			RepoID: repoID, RepoFullName: repoFullName, PRNumber: 23, Body: "fixes #12",
			AuthorGithubID: authorID, AuthorLogin: authorLogin,
		})
		assert.ErrorIs(t, err, errLedgerDown)
		require.Len(t, f.notes.escalations, 1)
		assert.Equal(t, bounty.KindClaimWrite, f.notes.escalations[0].ErrorType)
		assert.Empty(t, f.notes.events)
	})
}

func TestHandleIssueOpened(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.seedBounty(t, 12, "1000000", f.now.Add(time.Hour))
	in := bounty.NewIntake(f.deps)

	require.NoError(t, in.HandleIssueOpened(ctx, bounty.IssueEvent{RepoID: repoID, RepoFullName: repoFullName, IssueNumber: 99}))
	assert.Empty(t, f.notes.events)

	require.NoError(t, in.HandleIssueOpened(ctx, bounty.IssueEvent{RepoID: repoID, RepoFullName: repoFullName, IssueNumber: 12}))
	require.Equal(t, 1, f.notes.count(bounty.EventBountyCreated))
	assert.Equal(t, "1", f.notes.last(bounty.EventBountyCreated).AmountDisplay)

	require.NoError(t, f.ledger.SetPinnedComment(ctx, b.ID, 555))
	require.NoError(t, in.HandleIssueOpened(ctx, bounty.IssueEvent{RepoID: repoID, RepoFullName: repoFullName, IssueNumber: 12}))
	assert.Equal(t, 1, f.notes.count(bounty.EventBountyCreated))
}

func TestRegisterBounty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	repoHash := chain.RepoIDHash(repoID)
	id := chain.DeriveBountyID(sponsor, repoHash, 31)
	f.chain.bounties[id] = chain.OnChainBounty{
		ID:          id,
		RepoIDHash:  repoHash,
		Sponsor:     sponsor,
		Resolver:    common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Token:       common.HexToAddress(usdcAddress),
		Status:      chain.StatusOpen,
		IssueNumber: 31,
		Deadline:    uint64(f.now.Add(24 * time.Hour).Unix()),
		Amount:      mustAmount(t, "7000000"),
	}
	in := bounty.NewIntake(f.deps)
	req := bounty.RegisterInput{
		Network:      "base_sepolia",
		BountyID:     id.Hex(),
		RepoFullName: repoFullName,
		RepoID:       repoID,
		IssueNumber:  31,
		TxHash:       "0xcreate",
	}

	b, err := in.RegisterBounty(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, bounty.BountyOpen, b.Status)
	assert.Equal(t, "7000000", b.Amount)
	assert.Equal(t, "BASE_SEPOLIA", b.Network)
	assert.Equal(t, sponsor.Hex(), b.SponsorAddress)
	assert.Equal(t, 1, f.notes.count(bounty.EventBountyCreated))

	_, err = in.RegisterBounty(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notes.count(bounty.EventBountyCreated))

	wrongIssue := req
	wrongIssue.IssueNumber = 32
	_, err = in.RegisterBounty(ctx, wrongIssue)
	assert.ErrorIs(t, err, bounty.ErrBountyMismatch)

	wrongRepo := req
	wrongRepo.RepoID = 1
	_, err = in.RegisterBounty(ctx, wrongRepo)
	assert.ErrorIs(t, err, bounty.ErrBountyMismatch)

	unknown := req
	unknown.Network = "MEZO_TESTNET"
	_, err = in.RegisterBounty(ctx, unknown)
	assert.True(t, bounty.IsNetworkMissing(err))

	missing := req
	missing.BountyID = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	_, err = in.RegisterBounty(ctx, missing)
	assert.ErrorIs(t, err, chain.ErrBountyNotFound)
}

func mustAmount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := chain.ParseAmount(s)
	require.NoError(t, err)
	return v
}
