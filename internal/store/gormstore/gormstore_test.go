package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

var fixedNow = time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

func newTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	path := filepath.Join(test.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		test.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestService(test *testing.T, options ...ledger.ServiceOption) (*ledger.Service, *Store) {
	test.Helper()
	store := New(newTestDB(test))
	service, err := ledger.NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service, store
}

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustOpen(test *testing.T, service *ledger.Service, raw string) ledger.AccountID {
	test.Helper()
	accountID := mustAccountID(test, raw)
	username, err := ledger.NewUsername("user-" + raw)
	if err != nil {
		test.Fatalf("username: %v", err)
	}
	if _, err := service.OpenAccount(context.Background(), accountID, username); err != nil {
		test.Fatalf("open account: %v", err)
	}
	return accountID
}

func mustHistory(test *testing.T, accountID ledger.AccountID, task string, status ledger.HistoryStatus, occurredAt time.Time, resultRef string) ledger.HistoryInput {
	test.Helper()
	var ref *ledger.ResultRef
	if resultRef != "" {
		parsed, err := ledger.NewResultRef(resultRef)
		if err != nil {
			test.Fatalf("result ref: %v", err)
		}
		ref = &parsed
	}
	metadata, err := ledger.MetadataFromFields(map[string]any{"source": "test"})
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	input, err := ledger.NewHistoryInput(accountID, ledger.CategoryCreditTopup, task, "detail", status, occurredAt, ref, metadata)
	if err != nil {
		test.Fatalf("history input: %v", err)
	}
	return input
}

func TestCreateAccountRoundTrip(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")

	account, err := service.Account(context.Background(), accountID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if account.Balance != ledger.StartingBalance || account.Username.String() != "user-acct-1" || !account.CreatedAt.Equal(fixedNow) {
		test.Fatalf("unexpected account: %+v", account)
	}
	if !account.LastCreditAddedAt.IsZero() || !account.LastCreditUsedAt.IsZero() {
		test.Fatalf("expected never-used timestamps, got %+v", account)
	}
	resolved, err := service.AccountIDForUsername(context.Background(), account.Username)
	if err != nil || resolved != accountID {
		test.Fatalf("expected username lookup to return %s, got %s %v", accountID, resolved, err)
	}
}

func TestHistoryForeignKeyReferencesAccounts(test *testing.T) {
	test.Parallel()
	db := newTestDB(test)

	var accountsDDL, historyDDL string
	if err := db.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", "accounts").Scan(&accountsDDL).Error; err != nil {
		test.Fatalf("accounts ddl: %v", err)
	}
	if err := db.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", "account_history").Scan(&historyDDL).Error; err != nil {
		test.Fatalf("history ddl: %v", err)
	}
	if strings.Contains(accountsDDL, "REFERENCES") {
		test.Fatalf("accounts table must not reference other tables: %s", accountsDDL)
	}
	if !strings.Contains(historyDDL, "REFERENCES `accounts`") {
		test.Fatalf("expected account_history to reference accounts: %s", historyDDL)
	}

	service, err := ledger.NewService(New(db), func() time.Time { return fixedNow })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	accountID := mustOpen(test, service, "acct-1")
	if _, err := service.AppendHistory(context.Background(), mustHistory(test, accountID, "task", ledger.HistoryStatusSuccess, fixedNow, "")); err != nil {
		test.Fatalf("append history: %v", err)
	}
	if err := db.Delete(&Account{AccountID: accountID.String()}).Error; err != nil {
		test.Fatalf("delete account: %v", err)
	}
	var remaining int64
	if err := db.Model(&HistoryEntry{}).Where("account_id = ?", accountID.String()).Count(&remaining).Error; err != nil {
		test.Fatalf("count history: %v", err)
	}
	if remaining != 0 {
		test.Fatalf("expected history to cascade with its account, %d rows left", remaining)
	}
}

func TestCreateAccountDetectsDuplicates(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")
	username, err := ledger.NewUsername("user-acct-1")
	if err != nil {
		test.Fatalf("username: %v", err)
	}

	_, err = service.OpenAccount(context.Background(), accountID, username)
	if !errors.Is(err, ledger.ErrAccountExists) {
		test.Fatalf("expected duplicate id to be detected, got %v", err)
	}
	_, err = service.OpenAccount(context.Background(), mustAccountID(test, "acct-2"), username)
	if !errors.Is(err, ledger.ErrAccountExists) {
		test.Fatalf("expected duplicate username to be detected, got %v", err)
	}
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeDuplicate {
		test.Fatalf("expected store operation error, got %v", err)
	}
}

func TestUnknownAccountLookups(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	ghost := mustAccountID(test, "ghost")

	balance, err := service.Balance(context.Background(), ghost)
	if err != nil || balance != 0 {
		test.Fatalf("expected zero balance for missing account, got %d %v", balance, err)
	}
	if _, err := service.SetBalance(context.Background(), ghost, 5); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account, got %v", err)
	}
	username, err := ledger.NewUsername("nobody")
	if err != nil {
		test.Fatalf("username: %v", err)
	}
	if _, err := service.AccountIDForUsername(context.Background(), username); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account for username, got %v", err)
	}
}

func TestSetBalancePersistsCounters(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")

	for _, next := range []ledger.Credits{150, 90, 90, 300} {
		if _, err := service.SetBalance(context.Background(), accountID, next); err != nil {
			test.Fatalf("set balance %d: %v", next, err)
		}
	}
	account, err := service.Account(context.Background(), accountID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if account.Balance != 300 || account.LifetimeAdded != 260 || account.LifetimeUsed != 60 {
		test.Fatalf("unexpected counters: %+v", account)
	}
	if !account.Reconciles() {
		test.Fatalf("expected persisted account to reconcile: %+v", account)
	}
	if !account.LastCreditAddedAt.Equal(fixedNow) || !account.LastCreditUsedAt.Equal(fixedNow) {
		test.Fatalf("expected both timestamps stamped, got %+v", account)
	}
}

func TestHistoryOrderingAndGallery(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")
	inputs := []ledger.HistoryInput{
		mustHistory(test, accountID, "oldest", ledger.HistoryStatusSuccess, fixedNow.Add(-2*time.Hour), "outputs/1.png"),
		mustHistory(test, accountID, "failed", ledger.HistoryStatusFailed, fixedNow.Add(-time.Hour), "outputs/2.png"),
		mustHistory(test, accountID, "tie-first", ledger.HistoryStatusSuccess, fixedNow, ""),
		mustHistory(test, accountID, "tie-second", ledger.HistoryStatusSuccess, fixedNow, "outputs/3.png"),
	}
	for _, input := range inputs {
		if _, err := service.AppendHistory(context.Background(), input); err != nil {
			test.Fatalf("append history: %v", err)
		}
	}

	entries, err := service.ListHistory(context.Background(), accountID)
	if err != nil {
		test.Fatalf("list history: %v", err)
	}
	expectedOrder := []string{"tie-second", "tie-first", "failed", "oldest"}
	if len(entries) != len(expectedOrder) {
		test.Fatalf("expected %d entries, got %d", len(expectedOrder), len(entries))
	}
	for index, task := range expectedOrder {
		if entries[index].Task() != task {
			test.Fatalf("position %d: expected %s, got %s", index, task, entries[index].Task())
		}
	}
	if entries[0].MetadataJSON().String() != `{"source":"test"}` {
		test.Fatalf("unexpected metadata %s", entries[0].MetadataJSON())
	}
	if entries[0].Timestamp() != ledger.FormatTimestamp(fixedNow) {
		test.Fatalf("unexpected timestamp %s", entries[0].Timestamp())
	}

	gallery, err := service.ListGallery(context.Background(), accountID)
	if err != nil {
		test.Fatalf("list gallery: %v", err)
	}
	if len(gallery) != 2 || gallery[0].Task() != "tie-second" || gallery[1].Task() != "oldest" {
		test.Fatalf("unexpected gallery: %d entries", len(gallery))
	}
	ref, ok := gallery[0].ResultRef()
	if !ok || ref.String() != "outputs/3.png" {
		test.Fatalf("unexpected result ref %q", ref.String())
	}
}

func TestApplyLedgerChangeIsAtomic(test *testing.T) {
	test.Parallel()
	service, store := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")
	if err := store.db.Migrator().DropTable(&HistoryEntry{}); err != nil {
		test.Fatalf("drop history table: %v", err)
	}

	_, err := service.ApplyLedgerChange(context.Background(), accountID, 10, mustHistory(test, accountID, "Redeemed 10 credits", ledger.HistoryStatusSuccess, fixedNow, ""))
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) || operationError.Subject() != errorSubjectHistory {
		test.Fatalf("expected history insert failure, got %v", err)
	}

	account, err := service.Account(context.Background(), accountID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if account.Balance != ledger.StartingBalance || account.LifetimeAdded != 0 {
		test.Fatalf("expected balance update to roll back, got %+v", account)
	}
}

func TestAppendHistoryRejectsUnknownAccount(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	ghost := mustAccountID(test, "ghost")

	if _, err := service.AppendHistory(context.Background(), mustHistory(test, ghost, "orphan", ledger.HistoryStatusSuccess, fixedNow, "")); err == nil {
		test.Fatalf("expected foreign key violation for orphan history")
	}
}

func TestClearHistoryCountsDeletedRows(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test)
	accountID := mustOpen(test, service, "acct-1")
	otherID := mustOpen(test, service, "acct-2")
	for _, owner := range []ledger.AccountID{accountID, accountID, accountID, otherID} {
		if _, err := service.AppendHistory(context.Background(), mustHistory(test, owner, "task", ledger.HistoryStatusSuccess, fixedNow, "")); err != nil {
			test.Fatalf("append history: %v", err)
		}
	}

	deleted, err := service.ClearHistory(context.Background(), accountID)
	if err != nil {
		test.Fatalf("clear history: %v", err)
	}
	if deleted != 3 {
		test.Fatalf("expected 3 deleted rows, got %d", deleted)
	}
	remaining, err := service.ListHistory(context.Background(), otherID)
	if err != nil {
		test.Fatalf("list history: %v", err)
	}
	if len(remaining) != 1 {
		test.Fatalf("expected other account untouched, got %d", len(remaining))
	}
}

func TestConcurrentDeductsReconcile(test *testing.T) {
	test.Parallel()
	service, _ := newTestService(test, ledger.WithDeductPolicy(ledger.DeductPolicyCoverAmount))
	accountID := mustOpen(test, service, "acct-1")

	const attempts = 40
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		allowed   int
	)
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			ok, err := service.Deduct(context.Background(), accountID, 3)
			if err != nil {
				test.Errorf("deduct: %v", err)
				return
			}
			if ok {
				mutex.Lock()
				allowed++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	account, err := service.Account(context.Background(), accountID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if allowed != 33 || account.Balance != 1 || account.LifetimeUsed != 99 {
		test.Fatalf("expected 33 deducts leaving 1 credit, got %d deducts and %+v", allowed, account)
	}
	if !account.Reconciles() {
		test.Fatalf("expected account to reconcile: %+v", account)
	}
}
