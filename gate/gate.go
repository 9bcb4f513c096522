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

package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate/providers"
)

// ErrTokenAlreadyUsed indicates the commitment or nullifier has previously
// been consumed; the record is permanent and there is no un-consume path
var ErrTokenAlreadyUsed = errors.New("token has already been used")

// Consumption carries the optional context recorded alongside a consumed
// token for auditability
type Consumption struct {
	Amount    *uint64
	Recipient *common.Address
	BatchID   *uint64
}

// Gate is the one-time-use token ledger shared by settlement (commitments)
// and the custody claim paths (nullifiers); Consume succeeding implies
// first-use. Each gate names a scope, keeping its token namespace disjoint
// from other gates sharing the same backing ledger.
type Gate struct {
	scope  string
	ledger providers.TokenLedger
}

// InitGate initializes a gate with the given scope on the named ledger
// provider
func InitGate(scope string, provider *string) (*Gate, error) {
	ledger := providers.TokenLedgerFactory(provider)
	if ledger == nil {
		return nil, fmt.Errorf("failed to initialize %s gate; no token ledger provider resolved", scope)
	}

	return &Gate{
		scope:  scope,
		ledger: ledger,
	}, nil
}

// InitGateWithLedger initializes a gate with the given scope on the given
// ledger
func InitGateWithLedger(scope string, ledger providers.TokenLedger) *Gate {
	return &Gate{
		scope:  scope,
		ledger: ledger,
	}
}

// Scope returns the gate's token namespace
func (g *Gate) Scope() string {
	return g.scope
}

// Consumed returns true if the given token has previously been consumed
// through this gate
func (g *Gate) Consumed(token common.Digest) bool {
	return g.ledger.Contains(g.scope, token.String())
}

// Consume atomically records first use of the given token on behalf of the
// consumer; returns ErrTokenAlreadyUsed if a record already exists
func (g *Gate) Consume(token common.Digest, consumer common.Address, consumption *Consumption) (*providers.ConsumedToken, error) {
	record := &providers.ConsumedToken{
		Scope:      g.scope,
		Token:      token.String(),
		Consumer:   consumer.String(),
		ConsumedAt: time.Now().Unix(),
	}

	if consumption != nil {
		record.Amount = consumption.Amount
		record.BatchID = consumption.BatchID
		if consumption.Recipient != nil {
			record.Recipient = common.StringOrNil(consumption.Recipient.String())
		}
	}

	inserted, err := g.ledger.InsertIfAbsent(record)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token %s; %s", token, err.Error())
	}

	if !inserted {
		return nil, ErrTokenAlreadyUsed
	}

	return record, nil
}

// Resolve returns the consumption record for the given token, or nil
func (g *Gate) Resolve(token common.Digest) (*providers.ConsumedToken, error) {
	return g.ledger.Get(g.scope, token.String())
}
