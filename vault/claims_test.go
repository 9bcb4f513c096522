package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
)

var testRelayer = common.Address{0x06}

func initTestClaimVault(t *testing.T) (*Vault, *ledgerTransfer) {
	v, ledger := initTestVault(t, 1000)
	require.NoError(t, v.SetRelayer(testAuthority, testRelayer))

	_, err := v.Deposit(testDepositor, 500, testAsset)
	require.NoError(t, err)
	return v, ledger
}

func TestRelayerClaim(t *testing.T) {
	v, ledger := initTestClaimVault(t)

	record, err := v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), token(0x21), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Sequence)
	assert.Equal(t, uint64(100), record.Amount)

	// the record discloses only the relayer and the recipient
	assert.Equal(t, testRelayer, record.Claimant)
	assert.Equal(t, testRecipient, record.Recipient)

	assert.Equal(t, uint64(400), v.Balance(testAsset))
	assert.Equal(t, uint64(100), ledger.balances[testRecipient])
}

func TestRelayerClaimAuthorization(t *testing.T) {
	v, _ := initTestClaimVault(t)

	// neither strangers, executors nor the authority may relay
	_, err := v.RelayerClaim(testStranger, 100, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrUnauthorizedRelayer, err)

	_, err = v.RelayerClaim(testExecutor, 100, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrUnauthorizedRelayer, err)

	_, err = v.RelayerClaim(testAuthority, 100, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrUnauthorizedRelayer, err)
}

func TestRelayerClaimValidation(t *testing.T) {
	v, _ := initTestClaimVault(t)

	_, err := v.RelayerClaim(testRelayer, 0, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrZeroAmount, err)

	_, err = v.RelayerClaim(testRelayer, 600, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrInsufficientBalance, err)

	require.NoError(t, v.Pause(testAuthority))
	_, err = v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), token(0x21), testRecipient)
	assert.Equal(t, ErrVaultPaused, err)
	require.NoError(t, v.Unpause(testAuthority))

	// none of the failed attempts burned the nullifier
	_, err = v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), token(0x21), testRecipient)
	assert.NoError(t, err)
}

func TestNullifierReplayProtectionIsPermanent(t *testing.T) {
	v, _ := initTestClaimVault(t)

	first := token(0x21)
	second := token(0x22)

	_, err := v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), first, testRecipient)
	require.NoError(t, err)

	_, err = v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), second, testRecipient)
	require.NoError(t, err)

	// the first nullifier stays spent after newer claims land; the full
	// historical set gates replay, not just the most recent nullifier
	_, err = v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), first, testRecipient)
	assert.Equal(t, ErrNullifierAlreadyUsed, err)

	_, err = v.RelayerClaim(testRelayer, 100, testAsset, token(0x20), second, testRecipient)
	assert.Equal(t, ErrNullifierAlreadyUsed, err)
}

func TestAuthorityClaim(t *testing.T) {
	v, ledger := initTestClaimVault(t)

	// both the authority and the relayer may use the escape hatch
	record, err := v.AuthorityClaim(testAuthority, 100, testAsset, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, testAuthority, record.Claimant)
	assert.Nil(t, record.Nullifier)

	_, err = v.AuthorityClaim(testRelayer, 100, testAsset, testRecipient)
	require.NoError(t, err)

	assert.Equal(t, uint64(300), v.Balance(testAsset))
	assert.Equal(t, uint64(200), ledger.balances[testRecipient])

	// executors and strangers may not
	_, err = v.AuthorityClaim(testExecutor, 100, testAsset, testRecipient)
	assert.Equal(t, authority.ErrUnauthorized, err)

	_, err = v.AuthorityClaim(testStranger, 100, testAsset, testRecipient)
	assert.Equal(t, authority.ErrUnauthorized, err)
}

func TestAuthorityClaimValidation(t *testing.T) {
	v, _ := initTestClaimVault(t)

	_, err := v.AuthorityClaim(testAuthority, 0, testAsset, testRecipient)
	assert.Equal(t, ErrZeroAmount, err)

	_, err = v.AuthorityClaim(testAuthority, 600, testAsset, testRecipient)
	assert.Equal(t, ErrInsufficientBalance, err)

	require.NoError(t, v.Pause(testAuthority))
	_, err = v.AuthorityClaim(testAuthority, 100, testAsset, testRecipient)
	assert.Equal(t, ErrVaultPaused, err)
}
