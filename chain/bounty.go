package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrBountyNotFound is returned when the escrow reports status None.
var ErrBountyNotFound = errors.New("bounty not found on chain")

// Status mirrors the escrow's on-chain bounty enum.
type Status uint8

const (
	StatusNone Status = iota
	StatusOpen
	StatusResolved
	StatusRefunded
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusOpen:
		return "open"
	case StatusResolved:
		return "resolved"
	case StatusRefunded:
		return "refunded"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// OnChainBounty is the escrow's view of a bounty.
type OnChainBounty struct {
	ID          common.Hash
	RepoIDHash  common.Hash
	Sponsor     common.Address
	Resolver    common.Address
	Token       common.Address
	Status      Status
	IssueNumber uint64
	Deadline    uint64
	Amount      *big.Int
}

// Expired reports whether the bounty deadline is strictly before now (unix seconds).
func (b *OnChainBounty) Expired(now int64) bool {
	return now >= 0 && b.Deadline < uint64(now)
}

// RepoIDHash hashes the decimal string form of a GitHub repository id.
func RepoIDHash(repoID int64) common.Hash {
	return crypto.Keccak256Hash([]byte(strconv.FormatInt(repoID, 10)))
}

// DeriveBountyID mirrors the escrow's computeBountyId: keccak256 over the
// packed sponsor address, repo id hash and big-endian uint64 issue number.
func DeriveBountyID(sponsor common.Address, repoIDHash common.Hash, issueNumber uint64) common.Hash {
	var issue [8]byte
	binary.BigEndian.PutUint64(issue[:], issueNumber)
	return crypto.Keccak256Hash(sponsor.Bytes(), repoIDHash.Bytes(), issue[:])
}

// ParseBountyID parses a 0x-prefixed 32 byte hex id.
func ParseBountyID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("invalid bounty id %q: missing 0x prefix", s)
	}
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid bounty id %q", s)
	}
	return common.BytesToHash(b), nil
}

// ValidateAddress rejects anything that is not a usable payout address: wrong
// length, non-hex, the zero address, or mixed case that fails the EIP-55 checksum.
func ValidateAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("invalid address %q: zero address", s)
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if addr.Hex() != "0x"+body {
			return common.Address{}, fmt.Errorf("invalid address %q: bad checksum", s)
		}
	}
	return addr, nil
}
