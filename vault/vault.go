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
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
	gateproviders "github.com/daemonprotocol/sip/gate/providers"
)

// depositCommitmentTag domain-separates deposit commitments from every other
// keccak256 preimage in the system
const depositCommitmentTag = "SIP_DEPOSIT"

// ErrVaultPaused indicates deposits and withdrawals are suspended until an
// authority unpauses
var ErrVaultPaused = errors.New("vault is paused")

// ErrInvalidAmount indicates a zero-amount deposit or withdrawal
var ErrInvalidAmount = errors.New("amount must be greater than zero")

// ErrInsufficientBalance indicates the tracked balance cannot cover the
// requested amount
var ErrInsufficientBalance = errors.New("insufficient custodied balance")

// ErrBalanceOverflow indicates a deposit would overflow the tracked balance
var ErrBalanceOverflow = errors.New("custodied balance overflow")

// ErrDepositNotFound indicates no receipt exists for the sequence number
var ErrDepositNotFound = errors.New("deposit not found")

// TransferFunc is the external asset-transfer capability; the vault trusts it
// to move value and treats any returned error as a failed transfer
type TransferFunc func(from, to common.Address, asset common.Digest, amount uint64) error

// DepositRecord is the immutable receipt for one deposit
type DepositRecord struct {
	Commitment common.Digest  `json:"commitment"`
	Depositor  common.Address `json:"depositor"`
	Amount     uint64         `json:"amount"`
	Asset      common.Digest  `json:"asset"`
	Sequence   uint64         `json:"sequence"`
	CreatedAt  int64          `json:"created_at"`
}

// Vault is the custody engine: it tracks per-asset custodied balances,
// strictly increasing deposit/withdrawal/claim sequence numbers and the pause
// flag, and moves value through the external transfer capability only after
// the registry and the token gate authorize the operation. Every operation
// executes as a single critical section.
type Vault struct {
	mutex    sync.Mutex
	registry *authority.Registry
	gate     *gate.Gate
	deposits DepositLog
	transfer TransferFunc

	address  common.Address
	balances map[common.Digest]uint64

	depositSequence    uint64
	withdrawalSequence uint64
	claimSequence      uint64
	paused             bool
}

// Init initializes a custody engine holding funds at the given vault address
// on behalf of the given authority
func Init(owner, address common.Address, g *gate.Gate, deposits DepositLog, transfer TransferFunc) *Vault {
	v := &Vault{
		registry: authority.InitRegistry(owner),
		gate:     g,
		deposits: deposits,
		transfer: transfer,
		address:  address,
		balances: map[common.Digest]uint64{},
	}

	common.Log.Debugf("initialized custody engine; authority: %s; vault: %s", owner, address)
	return v
}

// Registry returns the authorization registry consulted by every privileged
// operation
func (v *Vault) Registry() *authority.Registry {
	return v.registry
}

// Address returns the custody address funds are held at
func (v *Vault) Address() common.Address {
	return v.address
}

// Balance returns the tracked custodied balance for the given asset
func (v *Vault) Balance(asset common.Digest) uint64 {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.balances[asset]
}

// Paused returns true while deposits and withdrawals are suspended
func (v *Vault) Paused() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.paused
}

// DepositSequence returns the current deposit sequence number
func (v *Vault) DepositSequence() uint64 {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.depositSequence
}

// WithdrawalSequence returns the current withdrawal sequence number
func (v *Vault) WithdrawalSequence() uint64 {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.withdrawalSequence
}

// computeDepositCommitment derives the deposit commitment from the receipt
// parameters; binding the strictly increasing sequence number into the
// preimage means two otherwise-identical deposits still commit differently
func computeDepositCommitment(depositor common.Address, amount uint64, asset common.Digest, sequence uint64, timestamp int64) common.Digest {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(depositCommitmentTag))
	hash.Write(depositor[:])

	var scalar [8]byte
	binary.LittleEndian.PutUint64(scalar[:], amount)
	hash.Write(scalar[:])

	hash.Write(asset[:])

	binary.LittleEndian.PutUint64(scalar[:], sequence)
	hash.Write(scalar[:])

	binary.LittleEndian.PutUint64(scalar[:], uint64(timestamp))
	hash.Write(scalar[:])

	var commitment common.Digest
	copy(commitment[:], hash.Sum(nil))
	return commitment
}

// Deposit moves the given amount from the depositor into custody and records
// the immutable receipt carrying the derived commitment; deposits need no
// registry authorization
func (v *Vault) Deposit(depositor common.Address, amount uint64, asset common.Digest) (*DepositRecord, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.paused {
		return nil, ErrVaultPaused
	}

	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	if v.balances[asset] > ^uint64(0)-amount {
		return nil, ErrBalanceOverflow
	}

	record := &DepositRecord{
		Depositor: depositor,
		Amount:    amount,
		Asset:     asset,
		Sequence:  v.depositSequence + 1,
		CreatedAt: time.Now().Unix(),
	}
	record.Commitment = computeDepositCommitment(depositor, amount, asset, record.Sequence, record.CreatedAt)

	if err := v.transfer(depositor, v.address, asset, amount); err != nil {
		return nil, err
	}

	// the receipt must land before any bookkeeping becomes observable; if it
	// cannot, refund the transfer so the error return leaves no state behind
	if err := v.deposits.Append(record); err != nil {
		if refundErr := v.transfer(v.address, depositor, asset, amount); refundErr != nil {
			common.Log.Warningf("failed to refund deposit of %d to %s after receipt persistence failure; %s", amount, depositor, refundErr.Error())
		}
		return nil, err
	}

	v.depositSequence++
	v.balances[asset] += amount

	common.Log.Debugf("accepted deposit %d; commitment: %s", record.Sequence, record.Commitment)
	v.dispatchNotification(natsDepositSubject, record)

	return record, nil
}

// Withdraw releases the given amount from custody to the recipient, gated by
// the registry and one-time consumption of the supplied token. A failed
// authorization, pause, amount or balance check never burns the token; the
// token is consumed before the external transfer is attempted, so a transfer
// failure after consumption leaves the token spent.
func (v *Vault) Withdraw(caller common.Address, token common.Digest, amount uint64, asset common.Digest, recipient common.Address) (*gateproviders.ConsumedToken, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.registry.IsAuthorized(caller) {
		return nil, authority.ErrUnauthorized
	}

	if v.paused {
		return nil, ErrVaultPaused
	}

	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	if v.balances[asset] < amount {
		return nil, ErrInsufficientBalance
	}

	record, err := v.gate.Consume(token, caller, &gate.Consumption{
		Amount:    common.Uint64OrNil(amount),
		Recipient: &recipient,
	})
	if err != nil {
		return nil, err
	}

	if err := v.transfer(v.address, recipient, asset, amount); err != nil {
		return nil, err
	}

	v.balances[asset] -= amount
	v.withdrawalSequence++

	common.Log.Debugf("released withdrawal %d of %d to %s", v.withdrawalSequence, amount, recipient)
	v.dispatchNotification(natsWithdrawalSubject, record)

	return record, nil
}

// DepositAt resolves the immutable receipt for the given sequence number
func (v *Vault) DepositAt(sequence uint64) (*DepositRecord, error) {
	record, err := v.deposits.Resolve(sequence)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrDepositNotFound
	}
	return record, nil
}

// Pause suspends deposits and withdrawals; authority-only. Admin operations
// remain available while paused.
func (v *Vault) Pause(caller common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.registry.IsAuthority(caller) {
		return authority.ErrUnauthorized
	}

	v.paused = true
	common.Log.Debugf("paused custody engine; authority: %s", caller)
	return nil
}

// Unpause resumes deposits and withdrawals; authority-only
func (v *Vault) Unpause(caller common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if !v.registry.IsAuthority(caller) {
		return authority.ErrUnauthorized
	}

	v.paused = false
	common.Log.Debugf("unpaused custody engine; authority: %s", caller)
	return nil
}

// SetSettlement delegates the settlement authorizer identity; authority-only
func (v *Vault) SetSettlement(caller, settlement common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.SetSettlement(caller, settlement)
}

// SetRelayer delegates the privacy-claim relayer identity; authority-only
func (v *Vault) SetRelayer(caller, relayer common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.SetRelayer(caller, relayer)
}

// AddExecutor delegates an executor; authority-only
func (v *Vault) AddExecutor(caller, executor common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.AddExecutor(caller, executor)
}

// RemoveExecutor revokes an executor; authority-only
func (v *Vault) RemoveExecutor(caller, executor common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.RemoveExecutor(caller, executor)
}

// BeginAuthorityTransfer starts the two-step authority handover
func (v *Vault) BeginAuthorityTransfer(caller, newAuthority common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.BeginAuthorityTransfer(caller, newAuthority)
}

// AcceptAuthorityTransfer completes the handover; pending-authority-only
func (v *Vault) AcceptAuthorityTransfer(caller common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.AcceptAuthorityTransfer(caller)
}

// CancelAuthorityTransfer clears any pending handover; authority-only
func (v *Vault) CancelAuthorityTransfer(caller common.Address) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.registry.CancelAuthorityTransfer(caller)
}
