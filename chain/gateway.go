package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt summarises a mined transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// ResolveResult is the outcome of a resolve attempt. Failures are carried in
// Error and never returned as a Go error.
type ResolveResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boundContract is the part of *bind.BoundContract the gateway uses.
type boundContract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// backend is the part of *ethclient.Client the gateway uses directly.
type backend interface {
	bind.DeployBackend
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type conn struct {
	network Network
	backend backend
	escrow  boundContract
	token   boundContract
	// txMu serialises nonce-consuming submissions from the signer. It is
	// never held while waiting for a receipt.
	txMu sync.Mutex
}

type dialFunc func(ctx context.Context, n Network) (*conn, error)

// Gateway talks to the escrow contract on every registered network.
type Gateway struct {
	registry *Registry
	key      *ecdsa.PrivateKey
	from     common.Address
	logger   *slog.Logger
	now      func() time.Time
	dial     dialFunc

	mu    sync.Mutex
	conns map[string]*conn
}

// NewGateway returns a gateway that lazily dials each network's RPC endpoint.
// A nil key gives a read-only gateway.
func NewGateway(registry *Registry, key *ecdsa.PrivateKey, logger *slog.Logger) *Gateway {
	return newGateway(registry, key, logger, dialEthclient)
}

func newGateway(registry *Registry, key *ecdsa.PrivateKey, logger *slog.Logger, dial dialFunc) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		registry: registry,
		key:      key,
		logger:   logger,
		now:      time.Now,
		dial:     dial,
		conns:    make(map[string]*conn),
	}
	if key != nil {
		g.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return g
}

func dialEthclient(ctx context.Context, n Network) (*conn, error) {
	client, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", n.Alias, err)
	}
	escrow := bind.NewBoundContract(common.HexToAddress(n.EscrowAddress), escrowABI, client, client, client)
	token := bind.NewBoundContract(common.HexToAddress(n.Token.Address), erc20ABI, client, client, client)
	return &conn{network: n, backend: client, escrow: escrow, token: token}, nil
}

// Signer returns the address transactions are sent from.
func (g *Gateway) Signer() common.Address {
	return g.from
}

func (g *Gateway) connect(ctx context.Context, alias string) (*conn, error) {
	n, ok := g.registry.Lookup(alias)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", alias)
	}
	g.mu.Lock()
	c, ok := g.conns[n.Alias]
	g.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := g.dial(ctx, n)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.conns[n.Alias]; ok {
		return existing, nil
	}
	g.conns[n.Alias] = c
	return c, nil
}

// GetBounty reads a bounty from the escrow. Status None is ErrBountyNotFound.
func (g *Gateway) GetBounty(ctx context.Context, network string, bountyID common.Hash) (*OnChainBounty, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	return c.getBounty(ctx, bountyID)
}

func (c *conn) getBounty(ctx context.Context, bountyID common.Hash) (*OnChainBounty, error) {
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, "getBounty", bountyID); err != nil {
		return nil, fmt.Errorf("failed to call getBounty: %w", err)
	}
	if len(out) != 8 {
		return nil, fmt.Errorf("unexpected getBounty result length %d", len(out))
	}
	b := &OnChainBounty{
		ID:          bountyID,
		RepoIDHash:  common.Hash(out[0].([32]byte)),
		Sponsor:     out[1].(common.Address),
		Resolver:    out[2].(common.Address),
		Token:       out[3].(common.Address),
		Status:      Status(out[4].(uint8)),
		IssueNumber: out[5].(uint64),
		Deadline:    out[6].(uint64),
		Amount:      out[7].(*big.Int),
	}
	if b.Status == StatusNone {
		return nil, ErrBountyNotFound
	}
	return b, nil
}

// ComputeBountyID asks the escrow to derive the id for the triple.
func (g *Gateway) ComputeBountyID(ctx context.Context, network string, sponsor common.Address, repoIDHash common.Hash, issueNumber uint64) (common.Hash, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return common.Hash{}, err
	}
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, "computeBountyId", sponsor, repoIDHash, issueNumber); err != nil {
		return common.Hash{}, fmt.Errorf("failed to call computeBountyId: %w", err)
	}
	if len(out) != 1 {
		return common.Hash{}, fmt.Errorf("unexpected computeBountyId result length %d", len(out))
	}
	return common.Hash(out[0].([32]byte)), nil
}

// Paused reports whether the escrow is paused.
func (g *Gateway) Paused(ctx context.Context, network string) (bool, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return false, err
	}
	return c.paused(ctx)
}

func (c *conn) paused(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := c.escrow.Call(&bind.CallOpts{Context: ctx}, &out, "paused"); err != nil {
		return false, fmt.Errorf("failed to call paused: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("unexpected paused result length %d", len(out))
	}
	return out[0].(bool), nil
}

// TokenBalance returns the network token balance of account in smallest units.
func (g *Gateway) TokenBalance(ctx context.Context, network string, account common.Address) (*big.Int, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	return c.tokenUint(ctx, "balanceOf", account)
}

func (c *conn) tokenUint(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", method, len(out))
	}
	return out[0].(*big.Int), nil
}

// preflight checks the escrow is deployed and not paused.
func (c *conn) preflight(ctx context.Context) error {
	code, err := c.backend.CodeAt(ctx, common.HexToAddress(c.network.EscrowAddress), nil)
	if err != nil {
		return fmt.Errorf("failed to read escrow code: %w", err)
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at escrow address %s on %s", c.network.EscrowAddress, c.network.Alias)
	}
	paused, err := c.paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("escrow contract is paused on %s", c.network.Alias)
	}
	return nil
}

func (g *Gateway) transactOpts(ctx context.Context, c *conn) (*bind.TransactOpts, error) {
	if g.key == nil {
		return nil, fmt.Errorf("no signer key configured")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(g.key, big.NewInt(c.network.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	if !c.network.EIP1559 {
		gasPrice, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		auth.GasPrice = gasPrice
		auth.GasLimit = c.network.gasLimit()
	}
	return auth, nil
}

// submit sends one transaction while holding the signer lock.
func (g *Gateway) submit(ctx context.Context, c *conn, target boundContract, method string, params ...interface{}) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	auth, err := g.transactOpts(ctx, c)
	if err != nil {
		return nil, err
	}
	tx, err := target.Transact(auth, method, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	g.logger.Info("submitted transaction", "network", c.network.Alias, "method", method, "tx", tx.Hash().Hex())
	return tx, nil
}

// wait blocks for the receipt up to the network's confirmation timeout.
func (g *Gateway) wait(ctx context.Context, c *conn, tx *types.Transaction) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.network.confirmTimeout())
	defer cancel()
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout waiting for confirmation of %s: %w", tx.Hash().Hex(), err)
		}
		return nil, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	r := &Receipt{TxHash: tx.Hash().Hex()}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}

// CreateBounty funds a new bounty from the signer. The escrow must not know
// the derived id yet and the deadline must be in the future. Token allowance
// is raised with approve first when it is below amount.
func (g *Gateway) CreateBounty(ctx context.Context, network string, resolver common.Address, repoIDHash common.Hash, issueNumber uint64, deadline time.Time, amount *big.Int) (common.Hash, *Receipt, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, nil, fmt.Errorf("amount must be positive")
	}
	if !deadline.After(g.now()) {
		return common.Hash{}, nil, fmt.Errorf("deadline %s is not in the future", deadline.UTC().Format(time.RFC3339))
	}
	if resolver == (common.Address{}) {
		return common.Hash{}, nil, fmt.Errorf("invalid address: zero resolver")
	}
	if err := c.preflight(ctx); err != nil {
		return common.Hash{}, nil, err
	}

	bountyID, err := g.ComputeBountyID(ctx, network, g.from, repoIDHash, issueNumber)
	if err != nil {
		return common.Hash{}, nil, err
	}
	existing, err := c.getBounty(ctx, bountyID)
	switch {
	case errors.Is(err, ErrBountyNotFound):
	case err != nil:
		return common.Hash{}, nil, err
	default:
		return common.Hash{}, nil, fmt.Errorf("bounty %s already exists with status %s", bountyID.Hex(), existing.Status)
	}

	escrowAddr := common.HexToAddress(c.network.EscrowAddress)
	allowance, err := c.tokenUint(ctx, "allowance", g.from, escrowAddr)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if allowance.Cmp(amount) < 0 {
		tx, err := g.submit(ctx, c, c.token, "approve", escrowAddr, amount)
		if err != nil {
			return common.Hash{}, nil, err
		}
		if _, err := g.wait(ctx, c, tx); err != nil {
			return common.Hash{}, nil, fmt.Errorf("approve failed: %w", err)
		}
	}

	tx, err := g.submit(ctx, c, c.escrow, "createBounty", resolver, repoIDHash, issueNumber, uint64(deadline.Unix()), amount)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := g.wait(ctx, c, tx)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return bountyID, receipt, nil
}

// RefundExpired returns escrowed funds to the sponsor of an open, expired bounty.
func (g *Gateway) RefundExpired(ctx context.Context, network string, bountyID common.Hash) (*Receipt, error) {
	c, err := g.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	if err := c.preflight(ctx); err != nil {
		return nil, err
	}
	b, err := c.getBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusOpen {
		return nil, fmt.Errorf("bounty not open: status %s", b.Status)
	}
	if !b.Expired(g.now().Unix()) {
		return nil, fmt.Errorf("bounty not expired until %d", b.Deadline)
	}
	tx, err := g.submit(ctx, c, c.escrow, "refundExpired", bountyID)
	if err != nil {
		return nil, err
	}
	return g.wait(ctx, c, tx)
}

// ResolveBounty pays an open bounty to recipient. It never returns an error:
// any failure is reported in the result so callers can classify it.
func (g *Gateway) ResolveBounty(ctx context.Context, network string, bountyID common.Hash, recipient string) ResolveResult {
	receipt, err := g.resolve(ctx, network, bountyID, recipient)
	if err != nil {
		g.logger.Error("resolve failed", "network", network, "bounty_id", bountyID.Hex(), "error", err)
		return ResolveResult{Error: err.Error()}
	}
	return ResolveResult{Success: true, TxHash: receipt.TxHash}
}

func (g *Gateway) resolve(ctx context.Context, network string, bountyID common.Hash, recipient string) (r *Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected failure resolving bounty: %v", p)
		}
	}()
	to, err := ValidateAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	c, err := g.connect(ctx, network)
	if err != nil {
		return nil, err
	}
	if err := c.preflight(ctx); err != nil {
		return nil, err
	}
	b, err := c.getBounty(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusOpen {
		return nil, fmt.Errorf("bounty not open: status %s", b.Status)
	}
	if b.Expired(g.now().Unix()) {
		return nil, fmt.Errorf("bounty deadline passed at %d", b.Deadline)
	}
	tx, err := g.submit(ctx, c, c.escrow, "resolve", bountyID, to)
	if err != nil {
		return nil, err
	}
	return g.wait(ctx, c, tx)
}

// Networks lists the registered aliases.
func (g *Gateway) Networks() []string {
	return g.registry.Aliases()
}

