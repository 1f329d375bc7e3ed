package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/bountypay/bounty"
)

// Memory is an in-process Ledger. It enforces the same rules as the Postgres
// store and is used by tests and local runs.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	bounties map[string]bounty.Bounty
	claims   []bounty.Claim
	wallets  map[int64]bounty.Wallet
	users    map[int64]bounty.User
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		bounties: map[string]bounty.Bounty{},
		wallets:  map[int64]bounty.Wallet{},
		users:    map[int64]bounty.User{},
	}
}

func (m *Memory) GetBounty(ctx context.Context, id string) (*bounty.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bounties[strings.ToLower(id)]
	if !ok {
		return nil, bounty.ErrNotFound
	}
	return &b, nil
}

func (m *Memory) filter(keep func(bounty.Bounty) bool) []bounty.Bounty {
	out := []bounty.Bounty{}
	for _, b := range m.bounties {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) FindOpenBounties(ctx context.Context, repoID int64) ([]bounty.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b bounty.Bounty) bool {
		return b.RepoID == repoID && b.Status == bounty.BountyOpen
	}), nil
}

// FindBountyByIssue returns the most recent open bounty for the issue, or the
// most recent bounty of any status when none is open.
func (m *Memory) FindBountyByIssue(ctx context.Context, repoID int64, issueNumber int) (*bounty.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.filter(func(b bounty.Bounty) bool {
		return b.RepoID == repoID && b.IssueNumber == issueNumber
	})
	if len(found) == 0 {
		return nil, bounty.ErrNotFound
	}
	best := found[len(found)-1]
	for i := len(found) - 1; i >= 0; i-- {
		if found[i].Status == bounty.BountyOpen {
			best = found[i]
			break
		}
	}
	return &best, nil
}

func (m *Memory) FindBountiesBySponsor(ctx context.Context, sponsor string) ([]bounty.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b bounty.Bounty) bool {
		return strings.EqualFold(b.SponsorAddress, sponsor)
	}), nil
}

func (m *Memory) ListBounties(ctx context.Context, status bounty.BountyStatus) ([]bounty.Bounty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b bounty.Bounty) bool {
		return status == "" || b.Status == status
	}), nil
}

func (m *Memory) UpsertBounty(ctx context.Context, b bounty.Bounty) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(b.ID)
	now := m.now().UTC()
	existing, ok := m.bounties[key]
	if !ok {
		b.ID = key
		if b.Status == "" {
			b.Status = bounty.BountyOpen
		}
		b.CreatedAt, b.UpdatedAt = now, now
		m.bounties[key] = b
		return true, nil
	}
	existing.RepoFullName = b.RepoFullName
	if existing.TxHash == "" {
		existing.TxHash = b.TxHash
	}
	if existing.Network == "" {
		existing.Network = b.Network
	}
	existing.UpdatedAt = now
	m.bounties[key] = existing
	return false, nil
}

func (m *Memory) TransitionBounty(ctx context.Context, id string, to bounty.BountyStatus, txHash string) (bool, error) {
	if !to.Terminal() {
		return false, bounty.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(id)
	b, ok := m.bounties[key]
	if !ok {
		return false, bounty.ErrNotFound
	}
	if b.Status != bounty.BountyOpen {
		return false, nil
	}
	b.Status = to
	switch to {
	case bounty.BountyResolved:
		b.ResolvedTxHash = txHash
	case bounty.BountyRefunded:
		b.RefundTxHash = txHash
	}
	b.UpdatedAt = m.now().UTC()
	m.bounties[key] = b
	return true, nil
}

func (m *Memory) SetPinnedComment(ctx context.Context, id string, commentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(id)
	b, ok := m.bounties[key]
	if !ok {
		return bounty.ErrNotFound
	}
	b.PinnedCommentID = commentID
	m.bounties[key] = b
	return nil
}

func (m *Memory) CreateClaim(ctx context.Context, c bounty.Claim) (bounty.Claim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.BountyID = strings.ToLower(c.BountyID)
	for _, existing := range m.claims {
		if existing.BountyID == c.BountyID && existing.PRNumber == c.PRNumber {
			return existing, false, nil
		}
	}
	if c.Status == "" {
		c.Status = bounty.ClaimPendingWallet
	}
	c.CreatedAt = m.now().UTC()
	m.claims = append(m.claims, c)
	return c, true, nil
}

func (m *Memory) FindClaimsByPR(ctx context.Context, repoFullName string, prNumber int) ([]bounty.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []bounty.Claim{}
	for _, c := range m.claims {
		if strings.EqualFold(c.RepoFullName, repoFullName) && c.PRNumber == prNumber {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) FindClaimsByBounty(ctx context.Context, bountyID string) ([]bounty.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []bounty.Claim{}
	for _, c := range m.claims {
		if c.BountyID == bountyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) UpdateClaimStatus(ctx context.Context, claimID string, u bounty.ClaimUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, c := range m.claims {
		if c.ID == claimID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, bounty.ErrNotFound
	}
	c := m.claims[idx]
	if !bounty.CanTransition(c.Status, u.Status) {
		return false, nil
	}
	if u.Status == bounty.ClaimPaid {
		for _, other := range m.claims {
			if other.BountyID == c.BountyID && other.ID != c.ID && other.Status == bounty.ClaimPaid {
				return false, bounty.ErrBountyAlreadyPaid
			}
		}
	}
	c.Status = u.Status
	if u.TxHash != "" {
		c.PaidTxHash = u.TxHash
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		c.PaidAt = &t
	}
	c.FailureReason = u.FailureReason
	m.claims[idx] = c
	return true, nil
}

func (m *Memory) FindWalletByGithubID(ctx context.Context, githubID int64) (*bounty.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[githubID]
	if !ok {
		return nil, bounty.ErrNotFound
	}
	return &w, nil
}

func (m *Memory) UpsertWallet(ctx context.Context, w bounty.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.UpdatedAt = m.now().UTC()
	m.wallets[w.GithubID] = w
	return nil
}

func (m *Memory) FindUserByGithubID(ctx context.Context, githubID int64) (*bounty.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[githubID]
	if !ok {
		return nil, bounty.ErrNotFound
	}
	return &u, nil
}

// UpsertUser stores a user's contact details.
func (m *Memory) UpsertUser(ctx context.Context, u bounty.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.GithubID] = u
	return nil
}
