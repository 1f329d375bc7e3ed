package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentTx struct {
	method string
	opts   *bind.TransactOpts
	params []interface{}
}

type fakeContract struct {
	mu      sync.Mutex
	calls   map[string][]interface{}
	callErr map[string]error
	sendErr error
	sent    []sentTx
	nonce   uint64
}

func newFakeContract() *fakeContract {
	return &fakeContract{calls: map[string][]interface{}{}, callErr: map[string]error{}}
}

func (f *fakeContract) Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.callErr[method]; err != nil {
		return err
	}
	out, ok := f.calls[method]
	if !ok {
		return errors.New("no stub for " + method)
	}
	*results = out
	return nil
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentTx{method: method, opts: opts, params: params})
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

type fakeBackend struct {
	code     []byte
	gasPrice *big.Int
	status   uint64
	pending  bool
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.code, nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if b.pending {
		return nil, errors.New("not found")
	}
	return &types.Receipt{TxHash: txHash, Status: b.status, BlockNumber: big.NewInt(42)}, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

const (
	testEscrow = "0x00000000000000000000000000000000000000e5"
	testToken  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

type gatewayFixture struct {
	gw      *Gateway
	escrow  *fakeContract
	token   *fakeContract
	backend *fakeBackend
	now     time.Time
}

func newFixture(t *testing.T, eip1559 bool) *gatewayFixture {
	t.Helper()
	reg, err := NewRegistry(Network{
		Alias:          "base_sepolia",
		ChainID:        84532,
		RPCURL:         "http://localhost:8545",
		EscrowAddress:  testEscrow,
		Token:          Token{Address: testToken, Symbol: "USDC", Decimals: 6},
		EIP1559:        eip1559,
		ConfirmTimeout: time.Second,
	})
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &gatewayFixture{
		escrow:  newFakeContract(),
		token:   newFakeContract(),
		backend: &fakeBackend{code: []byte{0x60, 0x80}, gasPrice: big.NewInt(7), status: types.ReceiptStatusSuccessful},
		now:     time.Unix(1_700_000_000, 0),
	}
	f.escrow.calls["paused"] = []interface{}{false}
	f.gw = newGateway(reg, key, nil, func(ctx context.Context, n Network) (*conn, error) {
		return &conn{network: n, backend: f.backend, escrow: f.escrow, token: f.token}, nil
	})
	f.gw.now = func() time.Time { return f.now }
	return f
}

func (f *gatewayFixture) stubBounty(status Status, deadline uint64) {
	f.escrow.calls["getBounty"] = []interface{}{
		[32]byte(RepoIDHash(99)),
		f.gw.Signer(),
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		common.HexToAddress(testToken),
		uint8(status),
		uint64(7),
		deadline,
		big.NewInt(500_000_000),
	}
}

var testBountyID = common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")

func TestGetBounty(t *testing.T) {
	f := newFixture(t, true)
	f.stubBounty(StatusOpen, 1_800_000_000)

	b, err := f.gw.GetBounty(context.Background(), "BASE_SEPOLIA", testBountyID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, b.Status)
	assert.Equal(t, uint64(7), b.IssueNumber)
	assert.Equal(t, "500000000", b.Amount.String())
	assert.Equal(t, RepoIDHash(99), b.RepoIDHash)

	f.stubBounty(StatusNone, 0)
	_, err = f.gw.GetBounty(context.Background(), "base_sepolia", testBountyID)
	assert.ErrorIs(t, err, ErrBountyNotFound)

	_, err = f.gw.GetBounty(context.Background(), "MAINNET", testBountyID)
	assert.ErrorContains(t, err, "unknown network")
}

func TestResolveBounty(t *testing.T) {
	recipient := "0xdeadbeef00000000000000000000000000000001"

	t.Run("success eip1559 leaves fees nil", func(t *testing.T) {
		f := newFixture(t, true)
		f.stubBounty(StatusOpen, 1_800_000_000)
		res := f.gw.ResolveBounty(context.Background(), "BASE_SEPOLIA", testBountyID, recipient)
		require.True(t, res.Success, res.Error)
		require.Len(t, f.escrow.sent, 1)
		sent := f.escrow.sent[0]
		assert.Equal(t, "resolve", sent.method)
		assert.Nil(t, sent.opts.GasPrice)
		assert.Zero(t, sent.opts.GasLimit)
		assert.Equal(t, common.HexToAddress(recipient), sent.params[1])
		assert.NotEmpty(t, res.TxHash)
	})

	t.Run("legacy sets gas price and limit", func(t *testing.T) {
		f := newFixture(t, false)
		f.stubBounty(StatusOpen, 1_800_000_000)
		res := f.gw.ResolveBounty(context.Background(), "BASE_SEPOLIA", testBountyID, recipient)
		require.True(t, res.Success, res.Error)
		sent := f.escrow.sent[0]
		assert.Equal(t, big.NewInt(7), sent.opts.GasPrice)
		assert.Equal(t, DefaultLegacyGasLimit, sent.opts.GasLimit)
	})

	tests := []struct {
		name    string
		setup   func(f *gatewayFixture)
		network string
		to      string
		want    string
	}{
		{
			name:    "invalid recipient",
			setup:   func(f *gatewayFixture) { f.stubBounty(StatusOpen, 1_800_000_000) },
			to:      "0x123",
			want:    "invalid recipient",
		},
		{
			name: "no code",
			setup: func(f *gatewayFixture) {
				f.stubBounty(StatusOpen, 1_800_000_000)
				f.backend.code = nil
			},
			want: "no contract code",
		},
		{
			name: "paused",
			setup: func(f *gatewayFixture) {
				f.stubBounty(StatusOpen, 1_800_000_000)
				f.escrow.calls["paused"] = []interface{}{true}
			},
			want: "paused",
		},
		{
			name:  "already resolved",
			setup: func(f *gatewayFixture) { f.stubBounty(StatusResolved, 1_800_000_000) },
			want:  "bounty not open",
		},
		{
			name:  "deadline passed",
			setup: func(f *gatewayFixture) { f.stubBounty(StatusOpen, 1_600_000_000) },
			want:  "deadline passed",
		},
		{
			name: "reverted",
			setup: func(f *gatewayFixture) {
				f.stubBounty(StatusOpen, 1_800_000_000)
				f.backend.status = types.ReceiptStatusFailed
			},
			want: "reverted",
		},
		{
			name: "send error",
			setup: func(f *gatewayFixture) {
				f.stubBounty(StatusOpen, 1_800_000_000)
				f.escrow.sendErr = errors.New("execution reverted: missing revert data")
			},
			want: "missing revert data",
		},
		{
			name: "confirmation timeout",
			setup: func(f *gatewayFixture) {
				f.stubBounty(StatusOpen, 1_800_000_000)
				f.backend.pending = true
			},
			want: "timeout",
		},
		{
			name:    "unknown network",
			setup:   func(f *gatewayFixture) {},
			network: "NOPE",
			want:    "unknown network",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			tc.setup(f)
			network := tc.network
			if network == "" {
				network = "BASE_SEPOLIA"
			}
			to := tc.to
			if to == "" {
				to = recipient
			}
			res := f.gw.ResolveBounty(context.Background(), network, testBountyID, to)
			assert.False(t, res.Success)
			assert.Empty(t, res.TxHash)
			assert.Contains(t, res.Error, tc.want)
		})
	}
}

func TestRefundExpired(t *testing.T) {
	f := newFixture(t, true)
	f.stubBounty(StatusOpen, 1_800_000_000)
	_, err := f.gw.RefundExpired(context.Background(), "BASE_SEPOLIA", testBountyID)
	assert.ErrorContains(t, err, "not expired")
	assert.Empty(t, f.escrow.sent)

	f.stubBounty(StatusRefunded, 1_600_000_000)
	_, err = f.gw.RefundExpired(context.Background(), "BASE_SEPOLIA", testBountyID)
	assert.ErrorContains(t, err, "not open")

	f.stubBounty(StatusOpen, 1_600_000_000)
	receipt, err := f.gw.RefundExpired(context.Background(), "BASE_SEPOLIA", testBountyID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	require.Len(t, f.escrow.sent, 1)
	assert.Equal(t, "refundExpired", f.escrow.sent[0].method)
}

func TestCreateBounty(t *testing.T) {
	resolver := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	repoHash := RepoIDHash(99)
	deadline := time.Unix(1_800_000_000, 0)

	t.Run("approves when allowance is short", func(t *testing.T) {
		f := newFixture(t, true)
		f.stubBounty(StatusNone, 0)
		id := DeriveBountyID(f.gw.Signer(), repoHash, 7)
		f.escrow.calls["computeBountyId"] = []interface{}{[32]byte(id)}
		f.token.calls["allowance"] = []interface{}{big.NewInt(10)}

		got, receipt, err := f.gw.CreateBounty(context.Background(), "BASE_SEPOLIA", resolver, repoHash, 7, deadline, big.NewInt(500))
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.NotEmpty(t, receipt.TxHash)
		require.Len(t, f.token.sent, 1)
		assert.Equal(t, "approve", f.token.sent[0].method)
		require.Len(t, f.escrow.sent, 1)
		assert.Equal(t, "createBounty", f.escrow.sent[0].method)
		assert.Equal(t, uint64(deadline.Unix()), f.escrow.sent[0].params[3])
	})

	t.Run("skips approve with enough allowance", func(t *testing.T) {
		f := newFixture(t, false)
		f.stubBounty(StatusNone, 0)
		f.escrow.calls["computeBountyId"] = []interface{}{[32]byte(testBountyID)}
		f.token.calls["allowance"] = []interface{}{big.NewInt(1000)}

		_, _, err := f.gw.CreateBounty(context.Background(), "BASE_SEPOLIA", resolver, repoHash, 7, deadline, big.NewInt(500))
		require.NoError(t, err)
		assert.Empty(t, f.token.sent)
		assert.Len(t, f.escrow.sent, 1)
	})

	t.Run("rejects duplicate", func(t *testing.T) {
		f := newFixture(t, true)
		f.stubBounty(StatusOpen, 1_800_000_000)
		f.escrow.calls["computeBountyId"] = []interface{}{[32]byte(testBountyID)}

		_, _, err := f.gw.CreateBounty(context.Background(), "BASE_SEPOLIA", resolver, repoHash, 7, deadline, big.NewInt(500))
		assert.ErrorContains(t, err, "already exists")
		assert.Empty(t, f.escrow.sent)
	})

	t.Run("rejects past deadline", func(t *testing.T) {
		f := newFixture(t, true)
		_, _, err := f.gw.CreateBounty(context.Background(), "BASE_SEPOLIA", resolver, repoHash, 7, time.Unix(1_600_000_000, 0), big.NewInt(500))
		assert.ErrorContains(t, err, "deadline")
	})
}

func TestTokenBalance(t *testing.T) {
	f := newFixture(t, true)
	f.token.calls["balanceOf"] = []interface{}{big.NewInt(123)}
	bal, err := f.gw.TokenBalance(context.Background(), "BASE_SEPOLIA", f.gw.Signer())
	require.NoError(t, err)
	assert.Equal(t, int64(123), bal.Int64())
}
