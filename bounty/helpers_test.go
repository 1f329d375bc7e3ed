package bounty_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/store"
)

const (
	repoID       int64 = 4242
	repoFullName       = "acme/widgets"
	usdcAddress        = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	payoutWallet       = "0x52908400098527886e0f7030069857d2e4169ee7"
	authorID     int64 = 1001
	authorLogin        = "octocat"
)

var sponsor = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type resolveCall struct {
	network   string
	bountyID  common.Hash
	recipient string
}

// fakeChain is an in-memory escrow. Resolve and refund flip the stored status
// the way the contract does.
type fakeChain struct {
	mu         sync.Mutex
	bounties   map[common.Hash]chain.OnChainBounty
	resolveErr string
	refundErr  error
	getErr     error
	resolves   []resolveCall
	refunds    int
	txCount    int

	// failFor fails resolves of one bounty with the given message.
	failFor map[common.Hash]string
	// revertClosed makes a resolve of a closed bounty revert without a
	// reason, the way a mined transaction that lost a race does.
	revertClosed bool
	// beforeResolve runs once, outside the lock, ahead of the next resolve.
	beforeResolve func()
}

func newFakeChain() *fakeChain {
	return &fakeChain{bounties: map[common.Hash]chain.OnChainBounty{}}
}

func (f *fakeChain) nextTx() string {
	f.txCount++
	return common.BigToHash(big.NewInt(int64(0xbeef00 + f.txCount))).Hex()
}

func (f *fakeChain) GetBounty(ctx context.Context, network string, id common.Hash) (*chain.OnChainBounty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.bounties[id]
	if !ok {
		return nil, chain.ErrBountyNotFound
	}
	return &b, nil
}

func (f *fakeChain) ResolveBounty(ctx context.Context, network string, id common.Hash, recipient string) chain.ResolveResult {
	f.mu.Lock()
	hook := f.beforeResolve
	f.beforeResolve = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, resolveCall{network: network, bountyID: id, recipient: recipient})
	if f.resolveErr != "" {
		return chain.ResolveResult{Error: f.resolveErr}
	}
	if msg, ok := f.failFor[id]; ok {
		return chain.ResolveResult{Error: msg}
	}
	b, ok := f.bounties[id]
	if !ok || b.Status != chain.StatusOpen {
		if f.revertClosed {
			return chain.ResolveResult{Error: "transaction " + f.nextTx() + " reverted"}
		}
		return chain.ResolveResult{Error: "bounty not open: status " + b.Status.String()}
	}
	b.Status = chain.StatusResolved
	f.bounties[id] = b
	return chain.ResolveResult{Success: true, TxHash: f.nextTx()}
}

func (f *fakeChain) RefundExpired(ctx context.Context, network string, id common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	b := f.bounties[id]
	b.Status = chain.StatusRefunded
	f.bounties[id] = b
	return &chain.Receipt{TxHash: f.nextTx(), BlockNumber: 7}, nil
}

func (f *fakeChain) setStatus(id string, s chain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := common.HexToHash(id)
	b := f.bounties[h]
	b.Status = s
	f.bounties[h] = b
}

func (f *fakeChain) resolvedIDs() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []common.Hash
	for _, r := range f.resolves {
		out = append(out, r.bountyID)
	}
	return out
}

func (f *fakeChain) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolves)
}

// recorder is a Notifier that keeps everything it is given.
type recorder struct {
	mu          sync.Mutex
	events      []bounty.Event
	escalations []bounty.Escalation
	notifyErr   error
}

func (r *recorder) Notify(ctx context.Context, e bounty.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.notifyErr
}

func (r *recorder) Escalate(ctx context.Context, e bounty.Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, e)
	return nil
}

func (r *recorder) count(kind bounty.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind bounty.EventKind) bounty.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i]
		}
	}
	return bounty.Event{}
}

func (r *recorder) kinds() []bounty.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bounty.EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ledger *store.Memory
	chain  *fakeChain
	notes  *recorder
	now    time.Time
	deps   bounty.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := chain.NewRegistry(chain.Network{
		Alias:         "BASE_SEPOLIA",
		ChainID:       84532,
		RPCURL:        "https://sepolia.base.org",
		EscrowAddress: "0x00000000000000000000000000000000000000e5",
		Token:         chain.Token{Address: usdcAddress, Symbol: "USDC", Decimals: 6},
		EIP1559:       true,
	})
	require.NoError(t, err)

	f := &fixture{
		ledger: store.NewMemory(),
		chain:  newFakeChain(),
		notes:  &recorder{},
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	f.deps = bounty.Deps{
		Ledger:   f.ledger,
		Chain:    f.chain,
		Networks: reg,
		Notifier: f.notes,
		Now:      func() time.Time { return f.now },
	}
	return f
}

// seedBounty registers an open bounty both on chain and in the ledger.
func (f *fixture) seedBounty(t *testing.T, issue int, amount string, deadline time.Time) bounty.Bounty {
	t.Helper()
	repoHash := chain.RepoIDHash(repoID)
	id := chain.DeriveBountyID(sponsor, repoHash, uint64(issue))
	amt, err := chain.ParseAmount(amount)
	require.NoError(t, err)

	f.chain.bounties[id] = chain.OnChainBounty{
		ID:          id,
		RepoIDHash:  repoHash,
		Sponsor:     sponsor,
		Resolver:    common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Token:       common.HexToAddress(usdcAddress),
		Status:      chain.StatusOpen,
		IssueNumber: uint64(issue),
		Deadline:    uint64(deadline.Unix()),
		Amount:      amt,
	}
	b := bounty.Bounty{
		ID:             id.Hex(),
		RepoFullName:   repoFullName,
		RepoID:         repoID,
		IssueNumber:    issue,
		SponsorAddress: sponsor.Hex(),
		Token:          usdcAddress,
		Amount:         amount,
		Deadline:       deadline.Unix(),
		Network:        "BASE_SEPOLIA",
		Status:         bounty.BountyOpen,
	}
	_, err = f.ledger.UpsertBounty(context.Background(), b)
	require.NoError(t, err)
	return b
}

func (f *fixture) linkWallet(t *testing.T, addr string) {
	t.Helper()
	require.NoError(t, f.ledger.UpsertWallet(context.Background(), bounty.Wallet{
		GithubID: authorID, GithubUsername: authorLogin, WalletAddress: addr,
	}))
}

func (f *fixture) openPR(t *testing.T, pr int, body string) bounty.IntakeResult {
	t.Helper()
	res, err := bounty.NewIntake(f.deps).HandlePullRequest(context.Background(), bounty.PullRequestEvent{
		RepoID:         repoID,
		RepoFullName:   repoFullName,
		PRNumber:       pr,
		Title:          "Improve widgets",
		Body:           body,
		AuthorGithubID: authorID,
		AuthorLogin:    authorLogin,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) claim(t *testing.T, pr int) bounty.Claim {
	t.Helper()
	claims, err := f.ledger.FindClaimsByPR(context.Background(), repoFullName, pr)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	return claims[0]
}

// failingLedger fails the writes selected by its flags.
type failingLedger struct {
	*store.Memory
	failTransition bool
	failClaimWrite bool
	failClaimPaid  bool
}

var errLedgerDown = errors.New("connection refused")

func (l *failingLedger) TransitionBounty(ctx context.Context, id string, to bounty.BountyStatus, tx string) (bool, error) {
	if l.failTransition {
		return false, errLedgerDown
	}
	return l.Memory.TransitionBounty(ctx, id, to, tx)
}

func (l *failingLedger) UpdateClaimStatus(ctx context.Context, id string, u bounty.ClaimUpdate) (bool, error) {
	if l.failClaimPaid && u.Status == bounty.ClaimPaid {
		return false, errLedgerDown
	}
	return l.Memory.UpdateClaimStatus(ctx, id, u)
}

func (l *failingLedger) CreateClaim(ctx context.Context, c bounty.Claim) (bounty.Claim, bool, error) {
	if l.failClaimWrite {
		return bounty.Claim{}, false, errLedgerDown
	}
	return l.Memory.CreateClaim(ctx, c)
}

func (f *fixture) chainID(id string) common.Hash {
	return common.HexToHash(id)
}
