package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveBountyIDDeterministic(t *testing.T) {
	sponsor := common.HexToAddress("0x1111111111111111111111111111111111111111")
	repo := RepoIDHash(123456)

	a := DeriveBountyID(sponsor, repo, 7)
	b := DeriveBountyID(sponsor, repo, 7)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DeriveBountyID(sponsor, repo, 8))
	assert.NotEqual(t, a, DeriveBountyID(common.HexToAddress("0x2222222222222222222222222222222222222222"), repo, 7))
	assert.NotEqual(t, a, DeriveBountyID(sponsor, RepoIDHash(123457), 7))

	parsed, err := ParseBountyID(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseBountyID(t *testing.T) {
	_, err := ParseBountyID("abc")
	assert.Error(t, err)
	_, err = ParseBountyID("0xabc")
	assert.Error(t, err)
	_, err = ParseBountyID("0x" + "zz" + "00000000000000000000000000000000000000000000000000000000000000")
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"0xdeadbeef00000000000000000000000000000001", true},
		{"0xDEADBEEF00000000000000000000000000000001", true},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"0xdeadbeef", false},
		{"0xzzadbeef00000000000000000000000000000001", false},
		{"0x0000000000000000000000000000000000000000", false},
		{"", false},
	}
	for _, tc := range tests {
		_, err := ValidateAddress(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "none", StatusNone.String())
	assert.Equal(t, "open", StatusOpen.String())
	assert.Equal(t, "canceled", StatusCanceled.String())
	assert.Equal(t, "unknown(9)", Status(9).String())
}

const registryYAML = `
networks:
  - alias: base_sepolia
    chain_id: 84532
    rpc_url: https://sepolia.base.org
    escrow_address: "0x00000000000000000000000000000000000000e5"
    eip1559: true
    confirm_timeout: 90s
    token:
      address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
      symbol: USDC
      decimals: 6
  - alias: mezo_testnet
    chain_id: 31611
    rpc_url: https://rpc.test.mezo.org
    escrow_address: "0x00000000000000000000000000000000000000e6"
    legacy_gas_limit: 800000
    token:
      address: "0x00000000000000000000000000000000000000f1"
      symbol: MUSD
      decimals: 18
tokens:
  - address: "0x00000000000000000000000000000000000000f2"
    symbol: DAI
    decimals: 18
`

func TestParseRegistry(t *testing.T) {
	reg, extra, err := ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"BASE_SEPOLIA", "MEZO_TESTNET"}, reg.Aliases())
	require.Len(t, extra, 1)

	base, ok := reg.Lookup("BASE_SEPOLIA")
	require.True(t, ok)
	assert.True(t, base.EIP1559)
	assert.Equal(t, 90*time.Second, base.confirmTimeout())

	mezo, ok := reg.Lookup(" mezo_testnet ")
	require.True(t, ok)
	assert.False(t, mezo.EIP1559)
	assert.Equal(t, uint64(800000), mezo.gasLimit())
	assert.Equal(t, DefaultConfirmTimeout, mezo.confirmTimeout())

	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestParseRegistryRejectsBadEntries(t *testing.T) {
	_, _, err := ParseRegistry([]byte("networks:\n  - alias: x\n    chain_id: 1\n    escrow_address: nope\n"))
	assert.ErrorContains(t, err, "invalid escrow address")

	_, err = NewRegistry(
		Network{Alias: "a", ChainID: 1, EscrowAddress: testEscrow, Token: Token{Address: testToken}},
		Network{Alias: "A", ChainID: 1, EscrowAddress: testEscrow, Token: Token{Address: testToken}},
	)
	assert.ErrorContains(t, err, "duplicate")
}

func TestTokenTable(t *testing.T) {
	table := NewTokenTable(Token{Address: testToken, Symbol: "USDC", Decimals: 6})
	assert.Equal(t, 6, table.Lookup("0x036cbd53842c5426634e7929541ec2318f3dcf7e").Decimals)

	unknown := table.Lookup("0x00000000000000000000000000000000000000ff")
	assert.Equal(t, DefaultTokenDecimals, unknown.Decimals)
	assert.Empty(t, unknown.Symbol)

	var nilTable *TokenTable
	assert.Equal(t, DefaultTokenDecimals, nilTable.Lookup(testToken).Decimals)
}

func TestAmounts(t *testing.T) {
	v, err := ParseAmount("500000000")
	require.NoError(t, err)
	assert.Equal(t, "500", FormatAmount(v, 6))
	assert.Equal(t, "0.0000000005", FormatAmount(v, 18))
	assert.Equal(t, "1.5", FormatAmount(big.NewInt(1_500_000), 6))

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	assert.Equal(t, 0, Normalize(nil, 6).Sign())
}

func TestParseDisplayAmount(t *testing.T) {
	v, err := ParseDisplayAmount("25.5", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(25_500_000), v)

	v, err = ParseDisplayAmount("1", 18)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.String())

	_, err = ParseDisplayAmount("0.0000001", 6)
	assert.ErrorContains(t, err, "more than 6 decimals")
	_, err = ParseDisplayAmount("-1", 6)
	assert.Error(t, err)
	_, err = ParseDisplayAmount("ten", 6)
	assert.Error(t, err)
}
