package ledger

import "sync"

// accountLocks serializes ledger mutations per account. Entries are
// reference counted and dropped once no caller holds or waits on them.
type accountLocks struct {
	mutex   sync.Mutex
	entries map[string]*accountLock
}

type accountLock struct {
	mutex   sync.Mutex
	holders int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{entries: make(map[string]*accountLock)}
}

func (locks *accountLocks) lock(accountID AccountID) func() {
	key := accountID.String()
	locks.mutex.Lock()
	entry, ok := locks.entries[key]
	if !ok {
		entry = &accountLock{}
		locks.entries[key] = entry
	}
	entry.holders++
	locks.mutex.Unlock()

	entry.mutex.Lock()
	return func() {
		entry.mutex.Unlock()
		locks.mutex.Lock()
		entry.holders--
		if entry.holders == 0 {
			delete(locks.entries, key)
		}
		locks.mutex.Unlock()
	}
}

func (locks *accountLocks) size() int {
	locks.mutex.Lock()
	defer locks.mutex.Unlock()
	return len(locks.entries)
}
