package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// EscrowContractABI is the subset of the bounty escrow ABI the gateway calls.
const EscrowContractABI = `[
	{"type":"function","name":"getBounty","stateMutability":"view",
	 "inputs":[{"name":"bountyId","type":"bytes32"}],
	 "outputs":[
		{"name":"repoIdHash","type":"bytes32"},
		{"name":"sponsor","type":"address"},
		{"name":"resolver","type":"address"},
		{"name":"token","type":"address"},
		{"name":"status","type":"uint8"},
		{"name":"issueNumber","type":"uint64"},
		{"name":"deadline","type":"uint64"},
		{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"computeBountyId","stateMutability":"pure",
	 "inputs":[
		{"name":"sponsor","type":"address"},
		{"name":"repoIdHash","type":"bytes32"},
		{"name":"issueNumber","type":"uint64"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"createBounty","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"resolver","type":"address"},
		{"name":"repoIdHash","type":"bytes32"},
		{"name":"issueNumber","type":"uint64"},
		{"name":"deadline","type":"uint64"},
		{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"bountyId","type":"bytes32"}]},
	{"type":"function","name":"refundExpired","stateMutability":"nonpayable",
	 "inputs":[{"name":"bountyId","type":"bytes32"}],
	 "outputs":[]},
	{"type":"function","name":"resolve","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"bountyId","type":"bytes32"},
		{"name":"recipient","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"paused","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bool"}]}
]`

// ERC20ABI covers the token calls needed to fund an escrow.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	escrowABI = mustParseABI("escrow", EscrowContractABI)
	erc20ABI  = mustParseABI("erc20", ERC20ABI)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}
