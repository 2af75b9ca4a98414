package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectHistory     = "history"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"

	sqlInsertAccount = `
		insert into accounts(
			account_id, username, balance, starting_balance, credits_added, credits_used,
			generations, last_credit_added_at, last_credit_used_at, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	sqlSelectAccount = `
		select account_id, username, balance, starting_balance, credits_added, credits_used,
			generations, last_credit_added_at, last_credit_used_at, created_at
		from accounts
		where account_id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + `for update`

	sqlSelectAccountIDByUsername = `
		select account_id from accounts where username = $1
	`

	sqlUpdateAccount = `
		update accounts
		set balance = $2, credits_added = $3, credits_used = $4, generations = $5,
			last_credit_added_at = $6, last_credit_used_at = $7, updated_at = now()
		where account_id = $1
	`

	sqlInsertHistory = `
		insert into account_history(account_id, category, task, detail, status, occurred_at, result_ref, metadata)
		values($1, $2, $3, $4, $5, $6, $7, coalesce(nullif($8,''),'{}')::jsonb)
		returning id
	`

	sqlListHistory = `
		select id, account_id, category, task, detail, status, occurred_at, result_ref, coalesce(metadata::text,'{}')
		from account_history
		where account_id = $1
		order by occurred_at desc, id desc
	`

	sqlListGallery = `
		select id, account_id, category, task, detail, status, occurred_at, result_ref, coalesce(metadata::text,'{}')
		from account_history
		where account_id = $1 and status = 'success' and result_ref is not null
		order by occurred_at desc, id desc
	`

	sqlDeleteHistory = `
		delete from account_history where account_id = $1
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	querier
	BeginTx(ctx context.Context, options pgx.TxOptions) (pgx.Tx, error)
}

var (
	_ beginner = (*pgxpool.Pool)(nil)
	_ querier  = (pgx.Tx)(nil)
)

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool beginner
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(pool beginner) *Store {
	return &Store{queries: queries{querier: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{querier: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx joins the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	querier querier
}

func (q queries) CreateAccount(ctx context.Context, account ledger.Account) error {
	_, err := q.querier.Exec(ctx, sqlInsertAccount,
		account.ID.String(),
		account.Username.String(),
		account.Balance.Int64(),
		account.StartingBalance.Int64(),
		account.LifetimeAdded.Int64(),
		account.LifetimeUsed.Int64(),
		account.Generations,
		nullableTime(account.LastCreditAddedAt),
		nullableTime(account.LastCreditUsedAt),
		account.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return q.selectAccount(ctx, sqlSelectAccount, accountID, errorCodeGet)
}

func (q queries) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return q.selectAccount(ctx, sqlSelectAccountForUpdate, accountID, errorCodeLock)
}

func (q queries) FindAccountID(ctx context.Context, username ledger.Username) (ledger.AccountID, error) {
	var raw string
	err := q.querier.QueryRow(ctx, sqlSelectAccountIDByUsername, username.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func (q queries) UpdateAccount(ctx context.Context, account ledger.Account) error {
	tag, err := q.querier.Exec(ctx, sqlUpdateAccount,
		account.ID.String(),
		account.Balance.Int64(),
		account.LifetimeAdded.Int64(),
		account.LifetimeUsed.Int64(),
		account.Generations,
		nullableTime(account.LastCreditAddedAt),
		nullableTime(account.LastCreditUsedAt),
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (q queries) InsertHistory(ctx context.Context, input ledger.HistoryInput) (ledger.HistoryEntryID, error) {
	var resultRef *string
	if ref, ok := input.ResultRef(); ok {
		value := ref.String()
		resultRef = &value
	}
	var rawID int64
	err := q.querier.QueryRow(ctx, sqlInsertHistory,
		input.AccountID().String(),
		input.Category().String(),
		input.Task(),
		input.Detail(),
		input.Status().String(),
		input.OccurredAt().UTC(),
		resultRef,
		input.MetadataJSON().String(),
	).Scan(&rawID)
	if err != nil {
		return ledger.HistoryEntryID{}, wrapStoreError(errorSubjectHistory, errorCodeInsert, err)
	}
	entryID, err := ledger.NewHistoryEntryID(rawID)
	if err != nil {
		return ledger.HistoryEntryID{}, wrapStoreError(errorSubjectHistory, errorCodeInvalid, err)
	}
	return entryID, nil
}

func (q queries) ListHistory(ctx context.Context, accountID ledger.AccountID, filter ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	query := sqlListHistory
	if filter.GalleryOnly {
		query = sqlListGallery
	}
	rows, err := q.querier.Query(ctx, query, accountID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanHistory(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectHistory, errorCodeList, err)
	}
	return entries, nil
}

func (q queries) DeleteHistory(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	tag, err := q.querier.Exec(ctx, sqlDeleteHistory, accountID.String())
	if err != nil {
		return 0, wrapStoreError(errorSubjectHistory, errorCodeDelete, err)
	}
	return tag.RowsAffected(), nil
}

func (q queries) selectAccount(ctx context.Context, query string, accountID ledger.AccountID, code string) (ledger.Account, error) {
	var (
		rawID           string
		rawUsername     string
		balance         int64
		startingBalance int64
		creditsAdded    int64
		creditsUsed     int64
		generations     int64
		lastAddedAt     *time.Time
		lastUsedAt      *time.Time
		createdAt       time.Time
	)
	err := q.querier.QueryRow(ctx, query, accountID.String()).Scan(
		&rawID, &rawUsername, &balance, &startingBalance, &creditsAdded, &creditsUsed,
		&generations, &lastAddedAt, &lastUsedAt, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	parsedID, err := ledger.NewAccountID(rawID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	username, err := ledger.NewUsername(rawUsername)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		ID:                parsedID,
		Username:          username,
		Balance:           ledger.Credits(balance),
		StartingBalance:   ledger.Credits(startingBalance),
		LifetimeAdded:     ledger.Credits(creditsAdded),
		LifetimeUsed:      ledger.Credits(creditsUsed),
		Generations:       generations,
		LastCreditAddedAt: timeOrZero(lastAddedAt),
		LastCreditUsedAt:  timeOrZero(lastUsedAt),
		CreatedAt:         createdAt.UTC(),
	}, nil
}

func scanHistory(rows pgx.Rows) ([]ledger.HistoryEntry, error) {
	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			rawID      int64
			rawAccount string
			category   string
			task       string
			detail     string
			rawStatus  string
			occurredAt time.Time
			rawRef     *string
			rawMeta    string
		)
		if err := rows.Scan(&rawID, &rawAccount, &category, &task, &detail, &rawStatus, &occurredAt, &rawRef, &rawMeta); err != nil {
			return nil, err
		}
		entryID, err := ledger.NewHistoryEntryID(rawID)
		if err != nil {
			return nil, err
		}
		accountID, err := ledger.NewAccountID(rawAccount)
		if err != nil {
			return nil, err
		}
		status, err := ledger.ParseHistoryStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		var resultRef *ledger.ResultRef
		if rawRef != nil {
			ref, err := ledger.NewResultRef(*rawRef)
			if err != nil {
				return nil, err
			}
			resultRef = &ref
		}
		metadata, err := ledger.NewMetadataJSON(rawMeta)
		if err != nil {
			return nil, err
		}
		input, err := ledger.NewHistoryInput(accountID, ledger.Category(category), task, detail, status, occurredAt.UTC(), resultRef, metadata)
		if err != nil {
			return nil, err
		}
		entry, err := ledger.NewHistoryEntry(entryID, input)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
