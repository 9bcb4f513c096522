/*
 * Copyright 2023-2024 Daemon Protocol Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package providers

import (
	dbconf "github.com/kthomas/go-db-config"

	"github.com/daemonprotocol/sip/common"
)

// TokenLedgerProviderMemory in-process token ledger provider
const TokenLedgerProviderMemory = "memory"

// TokenLedgerProviderDatabase database-backed token ledger provider
const TokenLedgerProviderDatabase = "database"

// TokenLedgerProviderRedis redis-backed token ledger provider
const TokenLedgerProviderRedis = "redis"

// ConsumedToken is the permanent record materialized upon first use of a
// commitment or nullifier; its existence IS the "already used" fact. The
// scope names the gate the token was consumed through, so ledgers shared by
// multiple gates keep their token namespaces disjoint.
type ConsumedToken struct {
	Scope      string  `json:"scope"`
	Token      string  `json:"token"`
	Consumer   string  `json:"consumer"`
	Amount     *uint64 `json:"amount,omitempty"`
	Recipient  *string `json:"recipient,omitempty"`
	BatchID    *uint64 `json:"batch_id,omitempty"`
	ConsumedAt int64   `json:"consumed_at"`
}

// TokenLedger provides a common interface to one-time token consumption
// ledgers; InsertIfAbsent is the atomic test-and-set every replay check
// reduces to. Records are keyed by (scope, token) under every provider.
type TokenLedger interface {
	// Contains returns true if a record exists for the given scope and token
	Contains(scope, token string) bool

	// InsertIfAbsent materializes the record iff no record exists for its
	// scope and token; returns false when a record was already present
	InsertIfAbsent(record *ConsumedToken) (bool, error)

	// Get returns the record for the given scope and token, or nil
	Get(scope, token string) (*ConsumedToken, error)
}

// InitMemoryTokenLedgerProvider initializes an in-process token ledger
func InitMemoryTokenLedgerProvider() *MemoryLedger {
	return InitMemoryLedger()
}

// InitDatabaseTokenLedgerProvider initializes a token ledger backed by the
// configured database connection
func InitDatabaseTokenLedgerProvider() *DatabaseLedger {
	return InitDatabaseLedger(dbconf.DatabaseConnection())
}

// InitRedisTokenLedgerProvider initializes a token ledger backed by the
// configured redis instance
func InitRedisTokenLedgerProvider() *RedisLedger {
	return InitRedisLedger()
}

// TokenLedgerFactory resolves a token ledger provider by name
func TokenLedgerFactory(provider *string) TokenLedger {
	if provider == nil {
		common.Log.Warning("failed to initialize token ledger; no provider defined")
		return nil
	}

	switch *provider {
	case TokenLedgerProviderMemory:
		return InitMemoryTokenLedgerProvider()
	case TokenLedgerProviderDatabase:
		return InitDatabaseTokenLedgerProvider()
	case TokenLedgerProviderRedis:
		return InitRedisTokenLedgerProvider()
	default:
		common.Log.Warningf("failed to initialize token ledger; unknown provider: %s", *provider)
	}

	return nil
}
