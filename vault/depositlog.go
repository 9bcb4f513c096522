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
	"fmt"
	"sync"

	"github.com/jinzhu/gorm"

	"github.com/daemonprotocol/sip/common"
)

// DepositLog is the append-only store of deposit receipts keyed by sequence
// number; receipts are never updated or deleted
type DepositLog interface {
	Append(record *DepositRecord) error
	Resolve(sequence uint64) (*DepositRecord, error)
}

// MemoryDepositLog keeps deposit receipts in process memory
type MemoryDepositLog struct {
	mutex    sync.Mutex
	deposits map[uint64]*DepositRecord
}

// InitMemoryDepositLog initializes an in-memory deposit log
func InitMemoryDepositLog() *MemoryDepositLog {
	return &MemoryDepositLog{
		deposits: map[uint64]*DepositRecord{},
	}
}

// Append records the given deposit receipt
func (l *MemoryDepositLog) Append(record *DepositRecord) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, exists := l.deposits[record.Sequence]; exists {
		return fmt.Errorf("deposit receipt exists for sequence %d", record.Sequence)
	}

	receipt := *record
	l.deposits[record.Sequence] = &receipt
	return nil
}

// Resolve returns a copy of the receipt for the given sequence number, or
// nil; callers never receive a reference into the log itself
func (l *MemoryDepositLog) Resolve(sequence uint64) (*DepositRecord, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	record, exists := l.deposits[sequence]
	if !exists {
		return nil, nil
	}

	receipt := *record
	return &receipt, nil
}

// DatabaseDepositLog persists deposit receipts in the deposit_records table
type DatabaseDepositLog struct {
	db *gorm.DB
}

// InitDatabaseDepositLog initializes a deposit log on the given connection
func InitDatabaseDepositLog(db *gorm.DB) *DatabaseDepositLog {
	return &DatabaseDepositLog{
		db: db,
	}
}

// Append records the given deposit receipt; the unique constraint on the
// sequence column rejects any attempt to rewrite history
func (l *DatabaseDepositLog) Append(record *DepositRecord) error {
	result := l.db.Exec(
		"INSERT INTO deposit_records (commitment, depositor, amount, asset, sequence, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		record.Commitment.String(),
		record.Depositor.String(),
		record.Amount,
		record.Asset.String(),
		record.Sequence,
		record.CreatedAt,
	)

	errors := result.GetErrors()
	if len(errors) > 0 {
		return fmt.Errorf("failed to persist deposit receipt; %s", errors[0].Error())
	}

	return nil
}

// Resolve returns the receipt for the given sequence number, or nil
func (l *DatabaseDepositLog) Resolve(sequence uint64) (*DepositRecord, error) {
	rows, err := l.db.Raw(
		"SELECT commitment, depositor, amount, asset, sequence, created_at FROM deposit_records WHERE sequence = ?",
		sequence,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve deposit receipt; %s", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var commitment, depositor, asset string
	record := &DepositRecord{}
	err = rows.Scan(&commitment, &depositor, &record.Amount, &asset, &record.Sequence, &record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deposit receipt; %s", err.Error())
	}

	record.Commitment, err = common.DigestFromHex(commitment)
	if err != nil {
		return nil, err
	}

	record.Depositor, err = common.AddressFromHex(depositor)
	if err != nil {
		return nil, err
	}

	record.Asset, err = common.DigestFromHex(asset)
	if err != nil {
		return nil, err
	}

	return record, nil
}
