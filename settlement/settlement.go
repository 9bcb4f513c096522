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

package settlement

import (
	"errors"
	"sync"
	"time"

	"github.com/daemonprotocol/sip/authority"
	"github.com/daemonprotocol/sip/common"
	"github.com/daemonprotocol/sip/gate"
	gateproviders "github.com/daemonprotocol/sip/gate/providers"
	"github.com/daemonprotocol/sip/merkle"
)

// ErrInvalidRoot indicates an attempted rotation to the all-zero root
var ErrInvalidRoot = errors.New("invalid root: cannot be zero")

// ErrInvalidProof indicates a proof that does not recompute the current root
var ErrInvalidProof = errors.New("invalid merkle proof")

// ErrBatchNotFound indicates no history entry exists for the batch id
var ErrBatchNotFound = errors.New("batch not found")

// BatchRoot is the immutable audit record of one root rotation
type BatchRoot struct {
	BatchID   uint64         `json:"batch_id"`
	Root      common.Digest  `json:"root"`
	Submitter common.Address `json:"submitter"`
	CreatedAt int64          `json:"created_at"`
}

// Settlement is the root-rotation and proof-verification engine: it owns the
// single current merkle root, the monotonic batch counter, the append-only
// rotation history and the commitment gate. One instance exists per logical
// settlement deployment; every operation executes as a single critical
// section so its effects apply atomically or not at all.
type Settlement struct {
	mutex    sync.Mutex
	registry *authority.Registry
	gate     *gate.Gate
	batches  BatchLog

	currentRoot common.Digest
	batchID     uint64
}

// Init initializes a settlement engine with the given authority; the root
// starts all-zero, meaning "unset", and no proof verifies until the first
// rotation
func Init(owner common.Address, g *gate.Gate, batches BatchLog) *Settlement {
	s := &Settlement{
		registry: authority.InitRegistry(owner),
		gate:     g,
		batches:  batches,
	}

	common.Log.Debugf("initialized settlement engine; authority: %s", owner)
	return s
}

// Registry returns the authorization registry consulted by every privileged
// operation
func (s *Settlement) Registry() *authority.Registry {
	return s.registry
}

// CurrentRoot returns the latest accepted root
func (s *Settlement) CurrentRoot() common.Digest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.currentRoot
}

// BatchID returns the current batch sequence number
func (s *Settlement) BatchID() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.batchID
}

// RotateRoot accepts a new batch root submitted by an authorized executor,
// increments the batch counter and appends the immutable history entry;
// proofs are only ever checked against the current root — there is no
// tolerance window for a stale root after rotation
func (s *Settlement) RotateRoot(caller common.Address, newRoot common.Digest) (*BatchRoot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.registry.IsAuthorized(caller) {
		return nil, authority.ErrUnauthorized
	}

	if newRoot.IsZero() {
		return nil, ErrInvalidRoot
	}

	batch := &BatchRoot{
		BatchID:   s.batchID + 1,
		Root:      newRoot,
		Submitter: caller,
		CreatedAt: time.Now().Unix(),
	}

	if err := s.batches.Append(batch); err != nil {
		return nil, err
	}

	s.batchID++
	s.currentRoot = newRoot

	common.Log.Debugf("rotated settlement root; batch %d: %s", batch.BatchID, newRoot)
	s.dispatchNotification(natsRootRotatedSubject, batch)

	return batch, nil
}

// Settle verifies inclusion of the given commitment against the current root
// and atomically records its first use; no funds move here — downstream
// settlement is the caller's responsibility
func (s *Settlement) Settle(caller common.Address, commitment common.Digest, proof []common.Digest, leafIndex uint64) (*gateproviders.ConsumedToken, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.registry.IsAuthorized(caller) {
		return nil, authority.ErrUnauthorized
	}

	if err := merkle.ValidateProof(proof); err != nil {
		return nil, err
	}

	if !merkle.Verify(commitment, proof, leafIndex, s.currentRoot) {
		return nil, ErrInvalidProof
	}

	record, err := s.gate.Consume(commitment, caller, &gate.Consumption{
		BatchID: common.Uint64OrNil(s.batchID),
	})
	if err != nil {
		return nil, err
	}

	common.Log.Debugf("settled commitment %s in batch %d", commitment, s.batchID)
	s.dispatchNotification(natsCommitmentSettledSubject, record)

	return record, nil
}

// BatchAt resolves the immutable history entry for the given batch id
func (s *Settlement) BatchAt(batchID uint64) (*BatchRoot, error) {
	batch, err := s.batches.Resolve(batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	return batch, nil
}

// AddExecutor delegates an executor; authority-only
func (s *Settlement) AddExecutor(caller, executor common.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry.AddExecutor(caller, executor)
}

// RemoveExecutor revokes an executor; authority-only
func (s *Settlement) RemoveExecutor(caller, executor common.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry.RemoveExecutor(caller, executor)
}

// BeginAuthorityTransfer starts the two-step authority handover
func (s *Settlement) BeginAuthorityTransfer(caller, newAuthority common.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry.BeginAuthorityTransfer(caller, newAuthority)
}

// AcceptAuthorityTransfer completes the handover; pending-authority-only
func (s *Settlement) AcceptAuthorityTransfer(caller common.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry.AcceptAuthorityTransfer(caller)
}

// CancelAuthorityTransfer clears any pending handover; authority-only
func (s *Settlement) CancelAuthorityTransfer(caller common.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry.CancelAuthorityTransfer(caller)
}
