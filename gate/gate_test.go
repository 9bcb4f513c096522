package gate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate/providers"
)

func digest(b byte) common.Digest {
	var d common.Digest
	d[0] = b
	return d
}

func TestConsumeOnce(t *testing.T) {
	g := InitGateWithLedger("test", providers.InitMemoryLedger())

	token := digest(0x01)
	consumer := common.Address{0x0a}

	assert.False(t, g.Consumed(token))

	record, err := g.Consume(token, consumer, nil)
	require.NoError(t, err)
	assert.Equal(t, token.String(), record.Token)
	assert.Equal(t, consumer.String(), record.Consumer)
	assert.True(t, g.Consumed(token))

	_, err = g.Consume(token, consumer, nil)
	assert.Equal(t, ErrTokenAlreadyUsed, err)

	// a different consumer cannot consume it either
	_, err = g.Consume(token, common.Address{0x0b}, nil)
	assert.Equal(t, ErrTokenAlreadyUsed, err)

	// other tokens are unaffected
	_, err = g.Consume(digest(0x02), consumer, nil)
	assert.NoError(t, err)
}

func TestConsumeRecordsContext(t *testing.T) {
	g := InitGateWithLedger("test", providers.InitMemoryLedger())

	recipient := common.Address{0x0c}
	record, err := g.Consume(digest(0x03), common.Address{0x0a}, &Consumption{
		Amount:    common.Uint64OrNil(100),
		Recipient: &recipient,
		BatchID:   common.Uint64OrNil(7),
	})
	require.NoError(t, err)
	require.NotNil(t, record.Amount)
	assert.Equal(t, uint64(100), *record.Amount)
	require.NotNil(t, record.Recipient)
	assert.Equal(t, recipient.String(), *record.Recipient)
	require.NotNil(t, record.BatchID)
	assert.Equal(t, uint64(7), *record.BatchID)

	resolved, err := g.Resolve(digest(0x03))
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, record.Token, resolved.Token)

	missing, err := g.Resolve(digest(0x7f))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestScopesIsolateSharedLedger(t *testing.T) {
	ledger := providers.InitMemoryLedger()
	settlementGate := InitGateWithLedger("settlement", ledger)
	vaultGate := InitGateWithLedger("vault", ledger)

	token := digest(0x05)
	consumer := common.Address{0x0a}

	// consuming through one gate leaves the same token live in the other
	_, err := settlementGate.Consume(token, consumer, nil)
	require.NoError(t, err)
	assert.True(t, settlementGate.Consumed(token))
	assert.False(t, vaultGate.Consumed(token))

	_, err = vaultGate.Consume(token, consumer, nil)
	require.NoError(t, err)

	// replay within a scope is still rejected
	_, err = settlementGate.Consume(token, consumer, nil)
	assert.Equal(t, ErrTokenAlreadyUsed, err)
	_, err = vaultGate.Consume(token, consumer, nil)
	assert.Equal(t, ErrTokenAlreadyUsed, err)

	record, err := settlementGate.Resolve(token)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "settlement", record.Scope)
}

func TestConsumeConcurrent(t *testing.T) {
	g := InitGateWithLedger("test", providers.InitMemoryLedger())
	token := digest(0x04)

	workers := 32
	successes := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Consume(token, common.Address{byte(i)}, nil)
			if err == nil {
				successes <- struct{}{}
			} else {
				assert.Equal(t, ErrTokenAlreadyUsed, err)
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent consumer must win")
}
