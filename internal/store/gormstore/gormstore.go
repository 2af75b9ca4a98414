package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	// Extended result codes for primary key and unique constraint failures.
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
	sqliteDialectName          = "sqlite"

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectHistory = "history"
	errorCodeCreate     = "create"
	errorCodeDelete     = "delete"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeLock       = "lock"
	errorCodeLookup     = "lookup"
	errorCodeUpdate     = "update"
)

// Store implements ledger.Store on top of gorm.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	row := accountRow(account)
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.loadAccount(store.db.WithContext(ctx), accountID, errorCodeGet)
}

// LockAccount reads the account row with SELECT ... FOR UPDATE. SQLite has no
// row locks; its writer lock serializes the surrounding transaction instead.
func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	query := store.db.WithContext(ctx)
	if query.Dialector.Name() != sqliteDialectName {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return store.loadAccount(query, accountID, errorCodeLock)
}

func (store *Store) FindAccountID(ctx context.Context, username ledger.Username) (ledger.AccountID, error) {
	var row Account
	err := store.db.WithContext(ctx).Select("account_id").Where("username = ?", username.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account ledger.Account) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.ID.String()).
		Updates(map[string]any{
			"balance":              account.Balance.Int64(),
			"credits_added":        account.LifetimeAdded.Int64(),
			"credits_used":         account.LifetimeUsed.Int64(),
			"generations":          account.Generations,
			"last_credit_added_at": nullableTime(account.LastCreditAddedAt),
			"last_credit_used_at":  nullableTime(account.LastCreditUsedAt),
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (store *Store) InsertHistory(ctx context.Context, input ledger.HistoryInput) (ledger.HistoryEntryID, error) {
	var resultRef *string
	if ref, ok := input.ResultRef(); ok {
		value := ref.String()
		resultRef = &value
	}
	row := HistoryEntry{
		AccountID:  input.AccountID().String(),
		Category:   input.Category().String(),
		Task:       input.Task(),
		Detail:     input.Detail(),
		Status:     input.Status().String(),
		OccurredAt: input.OccurredAt().UTC(),
		ResultRef:  resultRef,
		Metadata:   datatypesJSON(input.MetadataJSON().String()),
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return ledger.HistoryEntryID{}, wrapStoreError(errorSubjectHistory, errorCodeInsert, err)
	}
	entryID, err := ledger.NewHistoryEntryID(row.ID)
	if err != nil {
		return ledger.HistoryEntryID{}, wrapStoreError(errorSubjectHistory, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (store *Store) ListHistory(ctx context.Context, accountID ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if filter.GalleryOnly {
		query = query.Where("status = ? AND result_ref IS NOT NULL", ledger.HistoryStatusSuccess.String())
	}
	var rows []HistoryEntry
	if err := query.Order("occurred_at desc").Order("id desc").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, err)
	}
	entries := make([]ledger.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapHistoryEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectHistory, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) DeleteHistory(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	result := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Delete(&HistoryEntry{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectHistory, errorCodeDelete, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) loadAccount(query *gorm.DB, accountID ledger.AccountID, code string) (ledger.Account, error) {
	var row Account
	err := query.Where("account_id = ?", accountID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	account, err := mapAccount(row)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func accountRow(account ledger.Account) Account {
	return Account{
		AccountID:         account.ID.String(),
		Username:          account.Username.String(),
		Balance:           account.Balance.Int64(),
		StartingBalance:   account.StartingBalance.Int64(),
		CreditsAdded:      account.LifetimeAdded.Int64(),
		CreditsUsed:       account.LifetimeUsed.Int64(),
		Generations:       account.Generations,
		LastCreditAddedAt: nullableTime(account.LastCreditAddedAt),
		LastCreditUsedAt:  nullableTime(account.LastCreditUsedAt),
		CreatedAt:         account.CreatedAt.UTC(),
		UpdatedAt:         account.CreatedAt.UTC(),
	}
}

func mapAccount(row Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Account{}, err
	}
	username, err := ledger.NewUsername(row.Username)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		ID:                accountID,
		Username:          username,
		Balance:           ledger.Credits(row.Balance),
		StartingBalance:   ledger.Credits(row.StartingBalance),
		LifetimeAdded:     ledger.Credits(row.CreditsAdded),
		LifetimeUsed:      ledger.Credits(row.CreditsUsed),
		Generations:       row.Generations,
		LastCreditAddedAt: timeOrZero(row.LastCreditAddedAt),
		LastCreditUsedAt:  timeOrZero(row.LastCreditUsedAt),
		CreatedAt:         row.CreatedAt.UTC(),
	}, nil
}

func mapHistoryEntry(row HistoryEntry) (ledger.HistoryEntry, error) {
	entryID, err := ledger.NewHistoryEntryID(row.ID)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	status, err := ledger.ParseHistoryStatus(row.Status)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	var resultRef *ledger.ResultRef
	if row.ResultRef != nil {
		ref, err := ledger.NewResultRef(*row.ResultRef)
		if err != nil {
			return ledger.HistoryEntry{}, err
		}
		resultRef = &ref
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	input, err := ledger.NewHistoryInput(accountID, ledger.Category(row.Category), row.Task, row.Detail, status, row.OccurredAt.UTC(), resultRef, metadata)
	if err != nil {
		return ledger.HistoryEntry{}, err
	}
	return ledger.NewHistoryEntry(entryID, input)
}

func nullableTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey || code == sqliteConstraintCode
	}
	return false
}
