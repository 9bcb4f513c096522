package providers

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/daemonprotocol/sip/common"
)

// DatabaseLedger persists consumed token records in the consumed_tokens
// table; the unique constraint on (scope, token) provides the atomic
// insert-if-absent under concurrent writers
type DatabaseLedger struct {
	db *gorm.DB
}

// InitDatabaseLedger initializes a token ledger on the given connection
func InitDatabaseLedger(db *gorm.DB) *DatabaseLedger {
	return &DatabaseLedger{
		db: db,
	}
}

// Contains returns true if a record exists for the given scope and token
func (l *DatabaseLedger) Contains(scope, token string) bool {
	var count int
	l.db.Raw("SELECT count(*) FROM consumed_tokens WHERE scope = ? AND token = ?", scope, token).Row().Scan(&count)
	return count > 0
}

// InsertIfAbsent materializes the record iff the token has not been consumed
// within its scope; ON CONFLICT DO NOTHING converts the unique constraint
// into a test-and-set
func (l *DatabaseLedger) InsertIfAbsent(record *ConsumedToken) (bool, error) {
	if record.ConsumedAt == 0 {
		record.ConsumedAt = time.Now().Unix()
	}

	result := l.db.Exec(
		"INSERT INTO consumed_tokens (scope, token, consumer, amount, recipient, batch_id, consumed_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (scope, token) DO NOTHING",
		record.Scope,
		record.Token,
		record.Consumer,
		record.Amount,
		record.Recipient,
		record.BatchID,
		record.ConsumedAt,
	)

	errors := result.GetErrors()
	if len(errors) > 0 {
		return false, fmt.Errorf("failed to persist consumed token record; %s", errors[0].Error())
	}

	if result.RowsAffected == 0 {
		common.Log.Debugf("token already consumed in scope %s: %s", record.Scope, record.Token)
		return false, nil
	}

	return true, nil
}

// Get returns the record for the given scope and token, or nil
func (l *DatabaseLedger) Get(scope, token string) (*ConsumedToken, error) {
	rows, err := l.db.Raw(
		"SELECT scope, token, consumer, amount, recipient, batch_id, consumed_at FROM consumed_tokens WHERE scope = ? AND token = ?",
		scope,
		token,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve consumed token record; %s", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	record := &ConsumedToken{}
	err = rows.Scan(&record.Scope, &record.Token, &record.Consumer, &record.Amount, &record.Recipient, &record.BatchID, &record.ConsumedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan consumed token record; %s", err.Error())
	}

	return record, nil
}
