package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonprotocol/sip/common"
)

func addr(b byte) common.Address {
	var a common.Address
	a[0] = b
	return a
}

func TestIsAuthorized(t *testing.T) {
	owner := addr(0x01)
	executor := addr(0x02)
	settlement := addr(0x03)
	stranger := addr(0x04)

	r := InitRegistry(owner)
	require.NoError(t, r.AddExecutor(owner, executor))
	require.NoError(t, r.SetSettlement(owner, settlement))

	assert.True(t, r.IsAuthorized(owner))
	assert.True(t, r.IsAuthorized(executor))
	assert.True(t, r.IsAuthorized(settlement))
	assert.False(t, r.IsAuthorized(stranger))
	assert.False(t, r.IsAuthorized(common.ZeroAddress))
}

func TestAddExecutor(t *testing.T) {
	owner := addr(0x01)
	r := InitRegistry(owner)

	assert.Equal(t, ErrUnauthorized, r.AddExecutor(addr(0xff), addr(0x02)))

	require.NoError(t, r.AddExecutor(owner, addr(0x02)))
	assert.Equal(t, ErrExecutorAlreadyExists, r.AddExecutor(owner, addr(0x02)))

	for i := byte(3); i < 3+MaxExecutors-1; i++ {
		require.NoError(t, r.AddExecutor(owner, addr(i)))
	}
	assert.Equal(t, MaxExecutors, len(r.Executors()))
	assert.Equal(t, ErrMaxExecutorsReached, r.AddExecutor(owner, addr(0xee)))
}

func TestRemoveExecutorSwapsWithLast(t *testing.T) {
	owner := addr(0x01)
	r := InitRegistry(owner)

	members := []common.Address{addr(0x10), addr(0x11), addr(0x12), addr(0x13)}
	for _, m := range members {
		require.NoError(t, r.AddExecutor(owner, m))
	}

	assert.Equal(t, ErrExecutorNotFound, r.RemoveExecutor(owner, addr(0xaa)))
	assert.Equal(t, ErrUnauthorized, r.RemoveExecutor(addr(0xff), members[0]))

	require.NoError(t, r.RemoveExecutor(owner, members[1]))

	// membership survives removal of another member; ordering is explicitly
	// insignificant, so assert set contents only
	remaining := r.Executors()
	assert.Len(t, remaining, 3)
	assert.ElementsMatch(t, []common.Address{members[0], members[2], members[3]}, remaining)
	assert.False(t, r.IsAuthorized(members[1]))

	// removed slot is reusable
	require.NoError(t, r.AddExecutor(owner, members[1]))
	assert.True(t, r.IsAuthorized(members[1]))
}

func TestExecutorSetBoundInvariant(t *testing.T) {
	owner := addr(0x01)
	r := InitRegistry(owner)

	// arbitrary interleaving of adds and removes never exceeds capacity or
	// introduces duplicates
	for round := 0; round < 5; round++ {
		for i := byte(0); i < MaxExecutors; i++ {
			r.AddExecutor(owner, addr(0x20+i))
		}
		assert.Equal(t, ErrMaxExecutorsReached, r.AddExecutor(owner, addr(0x7f)))

		seen := map[common.Address]bool{}
		for _, e := range r.Executors() {
			assert.False(t, seen[e], "duplicate executor %s", e)
			seen[e] = true
		}

		for i := byte(0); i < MaxExecutors; i += 2 {
			require.NoError(t, r.RemoveExecutor(owner, addr(0x20+i)))
		}
		assert.Len(t, r.Executors(), MaxExecutors/2)

		for i := byte(0); i < MaxExecutors; i += 2 {
			require.NoError(t, r.AddExecutor(owner, addr(0x20+i)))
		}
	}
}

func TestAuthorityTransferTwoStep(t *testing.T) {
	owner := addr(0x01)
	next := addr(0x02)
	r := InitRegistry(owner)

	assert.Equal(t, ErrNoPendingTransfer, r.AcceptAuthorityTransfer(next))
	assert.Equal(t, ErrInvalidPendingAuthority, r.BeginAuthorityTransfer(owner, common.ZeroAddress))
	assert.Equal(t, ErrUnauthorized, r.BeginAuthorityTransfer(next, next))

	require.NoError(t, r.BeginAuthorityTransfer(owner, next))
	assert.Equal(t, next, r.PendingAuthority())

	// only the exact pending authority may accept
	assert.Equal(t, ErrUnauthorized, r.AcceptAuthorityTransfer(addr(0x03)))

	// a later begin overwrites the prior pending request
	overwrite := addr(0x04)
	require.NoError(t, r.BeginAuthorityTransfer(owner, overwrite))
	assert.Equal(t, ErrUnauthorized, r.AcceptAuthorityTransfer(next))

	require.NoError(t, r.AcceptAuthorityTransfer(overwrite))
	assert.Equal(t, overwrite, r.Authority())
	assert.True(t, r.PendingAuthority().IsZero())

	// previous owner no longer holds authority
	assert.Equal(t, ErrUnauthorized, r.AddExecutor(owner, addr(0x05)))
}

func TestCancelAuthorityTransfer(t *testing.T) {
	owner := addr(0x01)
	r := InitRegistry(owner)

	assert.Equal(t, ErrUnauthorized, r.CancelAuthorityTransfer(addr(0xff)))

	// no-op with nothing pending
	require.NoError(t, r.CancelAuthorityTransfer(owner))

	require.NoError(t, r.BeginAuthorityTransfer(owner, addr(0x02)))
	require.NoError(t, r.CancelAuthorityTransfer(owner))
	assert.True(t, r.PendingAuthority().IsZero())
	assert.Equal(t, ErrNoPendingTransfer, r.AcceptAuthorityTransfer(addr(0x02)))
}

func TestRelayerDelegation(t *testing.T) {
	owner := addr(0x01)
	relayer := addr(0x02)
	r := InitRegistry(owner)

	assert.False(t, r.IsRelayer(common.ZeroAddress))
	assert.Equal(t, ErrUnauthorized, r.SetRelayer(relayer, relayer))

	require.NoError(t, r.SetRelayer(owner, relayer))
	assert.True(t, r.IsRelayer(relayer))
	assert.False(t, r.IsRelayer(owner))

	// relayer is distinct from the executor set
	assert.False(t, r.IsAuthorized(relayer))
}
