package credit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

type fakeLedger struct {
	mutex       sync.Mutex
	balances    map[ledger.AccountID]ledger.Credits
	history     []ledger.HistoryInput
	applyErr    error
	appendErr   error
	applyCalls  int
	appendCalls int
}

func newFakeLedger(test *testing.T) *fakeLedger {
	test.Helper()
	return &fakeLedger{balances: make(map[ledger.AccountID]ledger.Credits)}
}

func (fake *fakeLedger) open(accountID ledger.AccountID) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.balances[accountID] = ledger.StartingBalance
}

func (fake *fakeLedger) ApplyLedgerChange(ctx context.Context, accountID ledger.AccountID, delta ledger.Credits, history ledger.HistoryInput) (ledger.Account, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.applyCalls++
	if fake.applyErr != nil {
		return ledger.Account{}, fake.applyErr
	}
	balance, ok := fake.balances[accountID]
	if !ok {
		return ledger.Account{}, ledger.ErrUnknownAccount
	}
	balance += delta
	fake.balances[accountID] = balance
	fake.history = append(fake.history, history)
	return ledger.Account{ID: accountID, Balance: balance}, nil
}

func (fake *fakeLedger) AppendHistory(ctx context.Context, input ledger.HistoryInput) (ledger.HistoryEntryID, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.appendCalls++
	if fake.appendErr != nil {
		return ledger.HistoryEntryID{}, fake.appendErr
	}
	fake.history = append(fake.history, input)
	return ledger.NewHistoryEntryID(int64(len(fake.history)))
}

func (fake *fakeLedger) balance(accountID ledger.AccountID) ledger.Credits {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.balances[accountID]
}

func (fake *fakeLedger) entries() []ledger.HistoryInput {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([]ledger.HistoryInput(nil), fake.history...)
}

var fixedNow = time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustNewService(test *testing.T, ledgerService Ledger, payments PaymentProcessor) *Service {
	test.Helper()
	service, err := NewService(ledgerService, NewPINRegistry(), payments, fixedClock)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPurchase(test *testing.T, service *Service, accountID ledger.AccountID, bundle Bundle) Purchase {
	test.Helper()
	purchase, err := service.Purchase(context.Background(), accountID, bundle.String())
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	return purchase
}
