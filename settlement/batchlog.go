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
	"fmt"
	"sync"

	"github.com/jinzhu/gorm"

	"github.com/daemonprotocol/sip/common"
)

// BatchLog is the append-only history of accepted batch roots; entries are
// never updated or deleted
type BatchLog interface {
	Append(batch *BatchRoot) error
	Resolve(batchID uint64) (*BatchRoot, error)
}

// MemoryBatchLog keeps the rotation history in process memory; suitable for
// tests and single-node deployments without durability requirements
type MemoryBatchLog struct {
	mutex   sync.Mutex
	batches map[uint64]*BatchRoot
}

// InitMemoryBatchLog initializes an in-memory batch log
func InitMemoryBatchLog() *MemoryBatchLog {
	return &MemoryBatchLog{
		batches: map[uint64]*BatchRoot{},
	}
}

// Append records the given batch root
func (l *MemoryBatchLog) Append(batch *BatchRoot) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, exists := l.batches[batch.BatchID]; exists {
		return fmt.Errorf("batch root history entry exists for batch %d", batch.BatchID)
	}

	entry := *batch
	l.batches[batch.BatchID] = &entry
	return nil
}

// Resolve returns a copy of the history entry for the given batch id, or
// nil; callers never receive a reference into the log itself
func (l *MemoryBatchLog) Resolve(batchID uint64) (*BatchRoot, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	batch, exists := l.batches[batchID]
	if !exists {
		return nil, nil
	}

	entry := *batch
	return &entry, nil
}

// DatabaseBatchLog persists the rotation history in the batch_roots table
type DatabaseBatchLog struct {
	db *gorm.DB
}

// InitDatabaseBatchLog initializes a batch log on the given connection
func InitDatabaseBatchLog(db *gorm.DB) *DatabaseBatchLog {
	return &DatabaseBatchLog{
		db: db,
	}
}

// Append records the given batch root; the unique constraint on batch_id
// rejects any attempt to rewrite history
func (l *DatabaseBatchLog) Append(batch *BatchRoot) error {
	result := l.db.Exec(
		"INSERT INTO batch_roots (batch_id, root, submitter, created_at) VALUES (?, ?, ?, ?)",
		batch.BatchID,
		batch.Root.String(),
		batch.Submitter.String(),
		batch.CreatedAt,
	)

	errors := result.GetErrors()
	if len(errors) > 0 {
		return fmt.Errorf("failed to persist batch root history entry; %s", errors[0].Error())
	}

	return nil
}

// Resolve returns the history entry for the given batch id, or nil
func (l *DatabaseBatchLog) Resolve(batchID uint64) (*BatchRoot, error) {
	rows, err := l.db.Raw(
		"SELECT batch_id, root, submitter, created_at FROM batch_roots WHERE batch_id = ?",
		batchID,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve batch root history entry; %s", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var root, submitter string
	batch := &BatchRoot{}
	err = rows.Scan(&batch.BatchID, &root, &submitter, &batch.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch root history entry; %s", err.Error())
	}

	batch.Root, err = common.DigestFromHex(root)
	if err != nil {
		return nil, err
	}

	batch.Submitter, err = common.AddressFromHex(submitter)
	if err != nil {
		return nil, err
	}

	return batch, nil
}
