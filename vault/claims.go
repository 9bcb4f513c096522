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

package vault

import (
	"errors"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
)

// ErrUnauthorizedRelayer indicates the caller is not the delegated relayer
var ErrUnauthorizedRelayer = errors.New("caller is not the delegated relayer")

// ErrNullifierAlreadyUsed indicates the nullifier has previously authorized
// a claim
var ErrNullifierAlreadyUsed = errors.New("nullifier has already been used")

// ErrZeroAmount indicates a zero-amount claim
var ErrZeroAmount = errors.New("claim amount must be greater than zero")

// ClaimRecord is the observable record of one privacy claim; it names only
// the executing identity and the recipient, never the original depositor
type ClaimRecord struct {
	ID         uuid.UUID      `json:"id"`
	Claimant   common.Address `json:"claimant"`
	Recipient  common.Address `json:"recipient"`
	Amount     uint64         `json:"amount"`
	Asset      common.Digest  `json:"asset"`
	Commitment common.Digest  `json:"commitment"`
	Nullifier  *common.Digest `json:"nullifier,omitempty"`
	Sequence   uint64         `json:"sequence"`
	CreatedAt  int64          `json:"created_at"`
}

// RelayerClaim releases custodied funds to the recipient on behalf of an
// undisclosed depositor; only the delegated relayer may execute it, and each
// nullifier authorizes at most one claim ever. Consumed nullifiers are kept
// as a permanent set, so replaying any historical nullifier fails, not just
// the most recent one.
func (v *Vault) RelayerClaim(relayer common.Address, amount uint64, asset common.Digest, commitment, nullifier common.Digest, recipient common.Address) (*ClaimRecord, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.registry.IsRelayer(relayer) {
		return nil, ErrUnauthorizedRelayer
	}

	if v.paused {
		return nil, ErrVaultPaused
	}

	if amount == 0 {
		return nil, ErrZeroAmount
	}

	if v.balances[asset] < amount {
		return nil, ErrInsufficientBalance
	}

	_, err := v.gate.Consume(nullifier, relayer, &gate.Consumption{
		Amount:    common.Uint64OrNil(amount),
		Recipient: &recipient,
	})
	if err != nil {
		if errors.Is(err, gate.ErrTokenAlreadyUsed) {
			return nil, ErrNullifierAlreadyUsed
		}
		return nil, err
	}

	if err := v.transfer(v.address, recipient, asset, amount); err != nil {
		return nil, err
	}

	v.balances[asset] -= amount
	v.claimSequence++

	claimID, _ := uuid.NewV4()
	record := &ClaimRecord{
		ID:         claimID,
		Claimant:   relayer,
		Recipient:  recipient,
		Amount:     amount,
		Asset:      asset,
		Commitment: commitment,
		Nullifier:  &nullifier,
		Sequence:   v.claimSequence,
		CreatedAt:  time.Now().Unix(),
	}

	common.Log.Debugf("executed relayer claim %d of %d to %s", record.Sequence, amount, recipient)
	v.dispatchNotification(natsRelayerClaimSubject, record)

	return record, nil
}

// AuthorityClaim is the emergency escape hatch: the authority or the relayer
// may release custodied funds without a nullifier, bypassing the normal claim
// path; the pause flag still applies
func (v *Vault) AuthorityClaim(caller common.Address, amount uint64, asset common.Digest, recipient common.Address) (*ClaimRecord, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.registry.IsAuthority(caller) && !v.registry.IsRelayer(caller) {
		return nil, authority.ErrUnauthorized
	}

	if v.paused {
		return nil, ErrVaultPaused
	}

	if amount == 0 {
		return nil, ErrZeroAmount
	}

	if v.balances[asset] < amount {
		return nil, ErrInsufficientBalance
	}

	if err := v.transfer(v.address, recipient, asset, amount); err != nil {
		return nil, err
	}

	v.balances[asset] -= amount
	v.claimSequence++

	claimID, _ := uuid.NewV4()
	record := &ClaimRecord{
		ID:        claimID,
		Claimant:  caller,
		Recipient: recipient,
		Amount:    amount,
		Asset:     asset,
		Sequence:  v.claimSequence,
		CreatedAt: time.Now().Unix(),
	}

	common.Log.Debugf("executed authority claim %d of %d to %s", record.Sequence, amount, recipient)
	v.dispatchNotification(natsAuthorityClaimSubject, record)

	return record, nil
}
