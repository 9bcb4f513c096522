package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
	"github.com/daemonprotocol/sip/gate/providers"
)

var (
	testAuthority = common.Address{0x01}
	testExecutor  = common.Address{0x02}
	testDepositor = common.Address{0x03}
	testRecipient = common.Address{0x04}
	testVaultAddr = common.Address{0x05}
	testStranger  = common.Address{0xff}

	testAsset = common.Digest{0xee}
)

// ledgerTransfer tracks external balances so tests can assert conservation
// across the custody boundary
type ledgerTransfer struct {
	balances map[common.Address]uint64
	failNext error
}

func initLedgerTransfer(funded map[common.Address]uint64) *ledgerTransfer {
	return &ledgerTransfer{balances: funded}
}

func (l *ledgerTransfer) transfer(from, to common.Address, asset common.Digest, amount uint64) error {
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}
	if l.balances[from] < amount {
		return errors.New("transfer failed; insufficient external balance")
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func initTestVault(t *testing.T, funded uint64) (*Vault, *ledgerTransfer) {
	ledger := initLedgerTransfer(map[common.Address]uint64{testDepositor: funded})
	v := Init(testAuthority, testVaultAddr, gate.InitGateWithLedger("vault", providers.InitMemoryLedger()), InitMemoryDepositLog(), ledger.transfer)
	require.NoError(t, v.AddExecutor(testAuthority, testExecutor))
	return v, ledger
}

func token(b byte) common.Digest {
	var d common.Digest
	d[0] = b
	return d
}

func TestDeposit(t *testing.T) {
	v, ledger := initTestVault(t, 1000)

	record, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Sequence)
	assert.Equal(t, uint64(100), record.Amount)
	assert.Equal(t, testDepositor, record.Depositor)
	assert.False(t, record.Commitment.IsZero())

	assert.Equal(t, uint64(100), v.Balance(testAsset))
	assert.Equal(t, uint64(900), ledger.balances[testDepositor])
	assert.Equal(t, uint64(100), ledger.balances[testVaultAddr])

	// receipts are resolvable by sequence
	resolved, err := v.DepositAt(1)
	require.NoError(t, err)
	assert.Equal(t, record.Commitment, resolved.Commitment)

	_, err = v.DepositAt(2)
	assert.Equal(t, ErrDepositNotFound, err)

	// zero amounts are rejected before any transfer
	_, err = v.Deposit(testDepositor, 0, testAsset)
	assert.Equal(t, ErrInvalidAmount, err)
	assert.Equal(t, uint64(1), v.DepositSequence())
}

func TestDepositCommitmentsDistinct(t *testing.T) {
	v, _ := initTestVault(t, 1000)

	first, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)

	// identical parameters, distinct sequence: the commitment must differ
	second, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)
	assert.NotEqual(t, first.Commitment, second.Commitment)
	assert.Equal(t, first.Sequence+1, second.Sequence)
}

func TestDepositFailedTransfer(t *testing.T) {
	v, ledger := initTestVault(t, 1000)

	ledger.failNext = errors.New("transfer failed; rejected upstream")
	_, err := v.Deposit(testDepositor, 100, testAsset)
	assert.Error(t, err)

	// nothing is recorded for a failed deposit
	assert.Equal(t, uint64(0), v.Balance(testAsset))
	assert.Equal(t, uint64(0), v.DepositSequence())
}

// brokenDepositLog refuses every receipt, simulating an unavailable backing
// store
type brokenDepositLog struct{}

func (l *brokenDepositLog) Append(record *DepositRecord) error {
	return errors.New("failed to persist deposit receipt; store unavailable")
}

func (l *brokenDepositLog) Resolve(sequence uint64) (*DepositRecord, error) {
	return nil, nil
}

func TestDepositFailedReceiptLeavesNoState(t *testing.T) {
	ledger := initLedgerTransfer(map[common.Address]uint64{testDepositor: 1000})
	v := Init(testAuthority, testVaultAddr, gate.InitGateWithLedger("vault", providers.InitMemoryLedger()), &brokenDepositLog{}, ledger.transfer)

	_, err := v.Deposit(testDepositor, 100, testAsset)
	assert.Error(t, err)

	// no bookkeeping survives a failed receipt
	assert.Equal(t, uint64(0), v.Balance(testAsset))
	assert.Equal(t, uint64(0), v.DepositSequence())

	// the inbound transfer is refunded, so external balances are untouched
	assert.Equal(t, uint64(1000), ledger.balances[testDepositor])
	assert.Equal(t, uint64(0), ledger.balances[testVaultAddr])
}

func TestDepositBalanceOverflow(t *testing.T) {
	v, ledger := initTestVault(t, ^uint64(0))

	_, err := v.Deposit(testDepositor, ^uint64(0), testAsset)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v.Balance(testAsset))

	// the next unit would wrap the tracked balance; the deposit is rejected
	// before any transfer is attempted
	ledger.balances[testDepositor] = 1
	_, err = v.Deposit(testDepositor, 1, testAsset)
	assert.Equal(t, ErrBalanceOverflow, err)
	assert.Equal(t, uint64(1), v.DepositSequence())
	assert.Equal(t, uint64(1), ledger.balances[testDepositor])
}

func TestMemoryDepositLogIsolatesHistory(t *testing.T) {
	log := InitMemoryDepositLog()

	record := &DepositRecord{Commitment: token(0xaa), Depositor: testDepositor, Amount: 100, Asset: testAsset, Sequence: 1}
	require.NoError(t, log.Append(record))

	// mutating the appended record must not reach the log
	record.Amount = 0

	resolved, err := log.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), resolved.Amount)

	// nor may mutating a resolved receipt rewrite history
	resolved.Commitment = token(0xbb)

	again, err := log.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, token(0xaa), again.Commitment)
}

func TestWithdraw(t *testing.T) {
	v, ledger := initTestVault(t, 1000)

	_, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)

	record, err := v.Withdraw(testExecutor, token(0x01), 100, testAsset, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, token(0x01).String(), record.Token)
	require.NotNil(t, record.Amount)
	assert.Equal(t, uint64(100), *record.Amount)
	require.NotNil(t, record.Recipient)
	assert.Equal(t, testRecipient.String(), *record.Recipient)

	assert.Equal(t, uint64(0), v.Balance(testAsset))
	assert.Equal(t, uint64(100), ledger.balances[testRecipient])
	assert.Equal(t, uint64(1), v.WithdrawalSequence())
}

// deposit while paused fails, unpause recovers, oversized withdrawal fails
// without burning the token, exact withdrawal succeeds, replay is rejected
func TestCustodyLifecycle(t *testing.T) {
	v, _ := initTestVault(t, 1000)

	require.NoError(t, v.Pause(testAuthority))

	_, err := v.Deposit(testDepositor, 100, testAsset)
	assert.Equal(t, ErrVaultPaused, err)

	require.NoError(t, v.Unpause(testAuthority))

	_, err = v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v.Balance(testAsset))

	_, err = v.Withdraw(testExecutor, token(0x10), 150, testAsset, testRecipient)
	assert.Equal(t, ErrInsufficientBalance, err)

	_, err = v.Withdraw(testExecutor, token(0x10), 100, testAsset, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.Balance(testAsset))

	_, err = v.Withdraw(testExecutor, token(0x10), 100, testAsset, testRecipient)
	assert.Equal(t, gate.ErrTokenAlreadyUsed, err)
}

func TestWithdrawChecksBeforeConsumption(t *testing.T) {
	v, _ := initTestVault(t, 1000)

	_, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)

	spend := token(0x02)

	// each failure path must leave the token unspent
	_, err = v.Withdraw(testStranger, spend, 100, testAsset, testRecipient)
	assert.Equal(t, authority.ErrUnauthorized, err)

	_, err = v.Withdraw(testExecutor, spend, 0, testAsset, testRecipient)
	assert.Equal(t, ErrInvalidAmount, err)

	_, err = v.Withdraw(testExecutor, spend, 150, testAsset, testRecipient)
	assert.Equal(t, ErrInsufficientBalance, err)

	require.NoError(t, v.Pause(testAuthority))
	_, err = v.Withdraw(testExecutor, spend, 100, testAsset, testRecipient)
	assert.Equal(t, ErrVaultPaused, err)
	require.NoError(t, v.Unpause(testAuthority))

	_, err = v.Withdraw(testExecutor, spend, 100, testAsset, testRecipient)
	assert.NoError(t, err)
}

func TestWithdrawConsumesBeforeTransfer(t *testing.T) {
	v, ledger := initTestVault(t, 1000)

	_, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)

	// the token is burned even when the downstream transfer fails
	ledger.failNext = errors.New("transfer failed; rejected upstream")
	spend := token(0x03)
	_, err = v.Withdraw(testExecutor, spend, 100, testAsset, testRecipient)
	assert.Error(t, err)
	assert.Equal(t, uint64(100), v.Balance(testAsset), "tracked balance must survive a failed transfer")

	_, err = v.Withdraw(testExecutor, spend, 100, testAsset, testRecipient)
	assert.Equal(t, gate.ErrTokenAlreadyUsed, err)
}

func TestPauseRequiresAuthority(t *testing.T) {
	v, _ := initTestVault(t, 1000)

	// executors may move funds but not flip the pause switch
	assert.Equal(t, authority.ErrUnauthorized, v.Pause(testExecutor))
	assert.Equal(t, authority.ErrUnauthorized, v.Unpause(testExecutor))

	require.NoError(t, v.Pause(testAuthority))
	assert.True(t, v.Paused())
	require.NoError(t, v.Unpause(testAuthority))
	assert.False(t, v.Paused())
}

func TestMultiAssetBalancesIsolated(t *testing.T) {
	v, _ := initTestVault(t, 1000)

	otherAsset := common.Digest{0xdd}

	_, err := v.Deposit(testDepositor, 100, testAsset)
	require.NoError(t, err)
	_, err = v.Deposit(testDepositor, 50, otherAsset)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), v.Balance(testAsset))
	assert.Equal(t, uint64(50), v.Balance(otherAsset))

	// one asset's balance cannot cover another's withdrawal
	_, err = v.Withdraw(testExecutor, token(0x04), 100, otherAsset, testRecipient)
	assert.Equal(t, ErrInsufficientBalance, err)
}
