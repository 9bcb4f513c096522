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

package authority

import (
	"errors"

	"github.com/daemonprotocol/sip/common"
)

// MaxExecutors is the fixed capacity of the delegated executor set
const MaxExecutors = 10

// ErrUnauthorized indicates the caller lacks the required role
var ErrUnauthorized = errors.New("unauthorized: caller is not an authorized executor")

// ErrExecutorAlreadyExists indicates the executor is already delegated
var ErrExecutorAlreadyExists = errors.New("executor already exists")

// ErrExecutorNotFound indicates the executor is not in the delegated set
var ErrExecutorNotFound = errors.New("executor not found")

// ErrMaxExecutorsReached indicates the executor set is at capacity
var ErrMaxExecutorsReached = errors.New("maximum executors reached")

// ErrInvalidPendingAuthority indicates a transfer target of the reserved zero identity
var ErrInvalidPendingAuthority = errors.New("invalid pending authority")

// ErrNoPendingTransfer indicates no authority handover is in flight
var ErrNoPendingTransfer = errors.New("no pending authority transfer")

// Registry holds the single-owner-plus-bounded-delegate-set authorization
// model consulted by every privileged operation: the current authority, an
// optional pending authority (two-step handover), a fixed-capacity executor
// set and the optional settlement and relayer delegates used by the custody
// variants.
//
// A Registry carries no lock of its own; the owning engine serializes access.
type Registry struct {
	authority        common.Address
	pendingAuthority common.Address

	executors     [MaxExecutors]common.Address
	executorCount int

	// settlement delegate authorized to execute withdrawals
	settlement common.Address

	// relayer authorized to execute private claims
	relayer common.Address
}

// InitRegistry initializes the registry with the given authority
func InitRegistry(authority common.Address) *Registry {
	return &Registry{
		authority: authority,
	}
}

// Authority returns the current authority
func (r *Registry) Authority() common.Address {
	return r.authority
}

// PendingAuthority returns the in-flight handover target, or the zero address
func (r *Registry) PendingAuthority() common.Address {
	return r.pendingAuthority
}

// Settlement returns the settlement delegate, or the zero address
func (r *Registry) Settlement() common.Address {
	return r.settlement
}

// Relayer returns the relayer delegate, or the zero address
func (r *Registry) Relayer() common.Address {
	return r.relayer
}

// Executors returns a copy of the delegated executor set; ordering is not
// significant and not preserved across removals
func (r *Registry) Executors() []common.Address {
	executors := make([]common.Address, r.executorCount)
	copy(executors, r.executors[:r.executorCount])
	return executors
}

// IsAuthority returns true iff the given identity is the current authority
func (r *Registry) IsAuthority(addr common.Address) bool {
	return addr == r.authority
}

// IsRelayer returns true iff the given identity is the configured relayer
func (r *Registry) IsRelayer(addr common.Address) bool {
	return !r.relayer.IsZero() && addr == r.relayer
}

// IsAuthorized returns true iff the given identity is the authority, a
// delegated executor, or the settlement delegate
func (r *Registry) IsAuthorized(addr common.Address) bool {
	if addr == r.authority {
		return true
	}
	if !r.settlement.IsZero() && addr == r.settlement {
		return true
	}
	for i := 0; i < r.executorCount; i++ {
		if r.executors[i] == addr {
			return true
		}
	}
	return false
}

// AddExecutor delegates an executor; authority-only
func (r *Registry) AddExecutor(caller, executor common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}

	for i := 0; i < r.executorCount; i++ {
		if r.executors[i] == executor {
			return ErrExecutorAlreadyExists
		}
	}

	if r.executorCount >= MaxExecutors {
		return ErrMaxExecutorsReached
	}

	r.executors[r.executorCount] = executor
	r.executorCount++
	return nil
}

// RemoveExecutor revokes an executor by swapping it with the last entry and
// shrinking the set
func (r *Registry) RemoveExecutor(caller, executor common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}

	idx := -1
	for i := 0; i < r.executorCount; i++ {
		if r.executors[i] == executor {
			idx = i
			break
		}
	}

	if idx == -1 {
		return ErrExecutorNotFound
	}

	last := r.executorCount - 1
	if idx != last {
		r.executors[idx] = r.executors[last]
	}
	r.executors[last] = common.ZeroAddress
	r.executorCount--
	return nil
}

// BeginAuthorityTransfer starts a two-step authority handover, overwriting
// any prior pending request
func (r *Registry) BeginAuthorityTransfer(caller, newAuthority common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}
	if newAuthority.IsZero() {
		return ErrInvalidPendingAuthority
	}

	r.pendingAuthority = newAuthority
	return nil
}

// AcceptAuthorityTransfer completes the handover; callable only by the
// pending authority
func (r *Registry) AcceptAuthorityTransfer(caller common.Address) error {
	if r.pendingAuthority.IsZero() {
		return ErrNoPendingTransfer
	}
	if caller != r.pendingAuthority {
		return ErrUnauthorized
	}

	r.authority = r.pendingAuthority
	r.pendingAuthority = common.ZeroAddress
	return nil
}

// CancelAuthorityTransfer clears any pending handover; authority-only and a
// no-op when nothing is pending
func (r *Registry) CancelAuthorityTransfer(caller common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}

	r.pendingAuthority = common.ZeroAddress
	return nil
}

// SetSettlement rotates the settlement delegate; authority-only
func (r *Registry) SetSettlement(caller, settlement common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}

	r.settlement = settlement
	return nil
}

// SetRelayer rotates the relayer delegate; authority-only
func (r *Registry) SetRelayer(caller, relayer common.Address) error {
	if !r.IsAuthority(caller) {
		return ErrUnauthorized
	}

	r.relayer = relayer
	return nil
}
