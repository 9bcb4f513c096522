package providers

import (
	"encoding/json"
	"fmt"

	redisutil "github.com/kthomas/go-redisutil"
)

const redisLedgerKeyPrefix = "sip.consumed"

// RedisLedger keeps consumed token records in the configured redis instance;
// a distributed lock per scoped token key makes the check-then-set atomic
// across nodes sharing the instance
type RedisLedger struct{}

// InitRedisLedger initializes a redis-backed token ledger
func InitRedisLedger() *RedisLedger {
	redisutil.RequireRedis()
	return &RedisLedger{}
}

func redisLedgerKey(scope, token string) string {
	return fmt.Sprintf("%s.%s.%s", redisLedgerKeyPrefix, scope, token)
}

// Contains returns true if a record exists for the given scope and token
func (l *RedisLedger) Contains(scope, token string) bool {
	val, err := redisutil.Get(redisLedgerKey(scope, token))
	return err == nil && val != nil
}

// InsertIfAbsent materializes the record iff the token has not been consumed
// within its scope
func (l *RedisLedger) InsertIfAbsent(record *ConsumedToken) (bool, error) {
	key := redisLedgerKey(record.Scope, record.Token)

	inserted := false
	err := redisutil.WithRedlock(key, func() error {
		val, err := redisutil.Get(key)
		if err == nil && val != nil {
			return nil
		}

		raw, _ := json.Marshal(record)
		err = redisutil.Set(key, string(raw), nil)
		if err != nil {
			return err
		}

		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to persist consumed token record; %s", err.Error())
	}

	return inserted, nil
}

// Get returns the record for the given scope and token, or nil
func (l *RedisLedger) Get(scope, token string) (*ConsumedToken, error) {
	val, err := redisutil.Get(redisLedgerKey(scope, token))
	if err != nil || val == nil {
		return nil, nil
	}

	record := &ConsumedToken{}
	err = json.Unmarshal([]byte(*val), record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal consumed token record; %s", err.Error())
	}

	return record, nil
}
