package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// stubStore keeps ledger state in memory. WithTx serializes transactions and
// restores the previous state when the callback fails.
type stubStore struct {
	*stubState
	mutex sync.Mutex
}

type stubState struct {
	accounts  map[AccountID]Account
	usernames map[Username]AccountID
	history   []HistoryEntry
	nextID    int64
	failures  map[string]error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{stubState: &stubState{
		accounts:  make(map[AccountID]Account),
		usernames: make(map[Username]AccountID),
		failures:  make(map[string]error),
	}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := store.stubState.clone()
	if err := fn(ctx, store.stubState); err != nil {
		store.stubState.restore(snapshot)
		return err
	}
	return nil
}

func (state *stubState) clone() *stubState {
	copied := &stubState{
		accounts:  make(map[AccountID]Account, len(state.accounts)),
		usernames: make(map[Username]AccountID, len(state.usernames)),
		history:   append([]HistoryEntry(nil), state.history...),
		nextID:    state.nextID,
		failures:  state.failures,
	}
	for key, value := range state.accounts {
		copied.accounts[key] = value
	}
	for key, value := range state.usernames {
		copied.usernames[key] = value
	}
	return copied
}

func (state *stubState) restore(snapshot *stubState) {
	state.accounts = snapshot.accounts
	state.usernames = snapshot.usernames
	state.history = snapshot.history
	state.nextID = snapshot.nextID
}

func (state *stubState) failOn(method string, err error) {
	state.failures[method] = err
}

func (state *stubState) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, state)
}

func (state *stubState) CreateAccount(ctx context.Context, account Account) error {
	if err := state.failures["CreateAccount"]; err != nil {
		return err
	}
	if _, exists := state.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	if _, exists := state.usernames[account.Username]; exists {
		return ErrAccountExists
	}
	state.accounts[account.ID] = account
	state.usernames[account.Username] = account.ID
	return nil
}

func (state *stubState) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	if err := state.failures["GetAccount"]; err != nil {
		return Account{}, err
	}
	account, ok := state.accounts[accountID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account, nil
}

func (state *stubState) LockAccount(ctx context.Context, accountID AccountID) (Account, error) {
	if err := state.failures["LockAccount"]; err != nil {
		return Account{}, err
	}
	return state.GetAccount(ctx, accountID)
}

func (state *stubState) FindAccountID(ctx context.Context, username Username) (AccountID, error) {
	accountID, ok := state.usernames[username]
	if !ok {
		return AccountID{}, ErrUnknownAccount
	}
	return accountID, nil
}

func (state *stubState) UpdateAccount(ctx context.Context, account Account) error {
	if err := state.failures["UpdateAccount"]; err != nil {
		return err
	}
	if _, ok := state.accounts[account.ID]; !ok {
		return ErrUnknownAccount
	}
	state.accounts[account.ID] = account
	return nil
}

func (state *stubState) InsertHistory(ctx context.Context, entry HistoryInput) (HistoryEntryID, error) {
	if err := state.failures["InsertHistory"]; err != nil {
		return HistoryEntryID{}, err
	}
	state.nextID++
	entryID, err := NewHistoryEntryID(state.nextID)
	if err != nil {
		return HistoryEntryID{}, err
	}
	stored, err := NewHistoryEntry(entryID, entry)
	if err != nil {
		return HistoryEntryID{}, err
	}
	state.history = append(state.history, stored)
	return entryID, nil
}

func (state *stubState) ListHistory(ctx context.Context, accountID AccountID, filter HistoryFilter) ([]HistoryEntry, error) {
	if err := state.failures["ListHistory"]; err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	for _, entry := range state.history {
		if entry.AccountID() != accountID {
			continue
		}
		if filter.GalleryOnly {
			if _, hasRef := entry.ResultRef(); !hasRef || entry.Status() != HistoryStatusSuccess {
				continue
			}
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(left, right int) bool {
		if !entries[left].OccurredAt().Equal(entries[right].OccurredAt()) {
			return entries[left].OccurredAt().After(entries[right].OccurredAt())
		}
		return entries[left].EntryID().Int64() > entries[right].EntryID().Int64()
	})
	return entries, nil
}

func (state *stubState) DeleteHistory(ctx context.Context, accountID AccountID) (int64, error) {
	if err := state.failures["DeleteHistory"]; err != nil {
		return 0, err
	}
	var kept []HistoryEntry
	var deleted int64
	for _, entry := range state.history {
		if entry.AccountID() == accountID {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	state.history = kept
	return deleted, nil
}

var fixedNow = time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustUsername(test *testing.T, raw string) Username {
	test.Helper()
	username, err := NewUsername(raw)
	if err != nil {
		test.Fatalf("username: %v", err)
	}
	return username
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustHistoryInput(test *testing.T, accountID AccountID, task string, occurredAt time.Time) HistoryInput {
	test.Helper()
	input, err := NewHistoryInput(accountID, CategoryCreditTopup, task, "detail", HistoryStatusSuccess, occurredAt, nil, mustMetadata(test, ""))
	if err != nil {
		test.Fatalf("history input: %v", err)
	}
	return input
}

func mustOpenAccount(test *testing.T, service *Service, raw string) AccountID {
	test.Helper()
	accountID := mustAccountID(test, raw)
	if _, err := service.OpenAccount(context.Background(), accountID, mustUsername(test, fmt.Sprintf("user-%s", raw))); err != nil {
		test.Fatalf("open account: %v", err)
	}
	return accountID
}

func mustSetBalance(test *testing.T, service *Service, accountID AccountID, balance Credits) {
	test.Helper()
	if _, err := service.SetBalance(context.Background(), accountID, balance); err != nil {
		test.Fatalf("set balance: %v", err)
	}
}
