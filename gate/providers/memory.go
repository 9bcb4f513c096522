package providers

import (
	"fmt"
	"sync"
)

// MemoryLedger is the in-process token ledger; suitable for a single-node
// deployment and for tests
type MemoryLedger struct {
	mutex   sync.Mutex
	records map[string]*ConsumedToken
}

// InitMemoryLedger initializes an empty in-process token ledger
func InitMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: map[string]*ConsumedToken{},
	}
}

func memoryLedgerKey(scope, token string) string {
	return fmt.Sprintf("%s.%s", scope, token)
}

// Contains returns true if a record exists for the given scope and token
func (l *MemoryLedger) Contains(scope, token string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	_, ok := l.records[memoryLedgerKey(scope, token)]
	return ok
}

// InsertIfAbsent materializes the record iff the token has not been consumed
// within its scope
func (l *MemoryLedger) InsertIfAbsent(record *ConsumedToken) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	key := memoryLedgerKey(record.Scope, record.Token)
	if _, ok := l.records[key]; ok {
		return false, nil
	}

	l.records[key] = record
	return true, nil
}

// Get returns the record for the given scope and token, or nil
func (l *MemoryLedger) Get(scope, token string) (*ConsumedToken, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	record, ok := l.records[memoryLedgerKey(scope, token)]
	if !ok {
		return nil, nil
	}
	return record, nil
}
