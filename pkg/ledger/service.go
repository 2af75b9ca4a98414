package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errDeductRejected = errors.New("deduct rejected")

// Service contains the ledger and history logic over a Store.
type Service struct {
	store        Store
	nowFn        func() time.Time
	logger       OperationLogger
	deductPolicy DeductPolicy
	locks        *accountLocks
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		deductPolicy: DeductPolicyPositiveBalance,
		locks:        newAccountLocks(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if _, err := ParseDeductPolicy(service.deductPolicy.String()); err != nil {
		return nil, err
	}
	return service, nil
}

// DeductPolicy returns the configured debit rule.
func (service *Service) DeductPolicy() DeductPolicy {
	return service.deductPolicy
}

// OpenAccount creates an account holding the starting grant. The optional
// history records are appended in the same transaction as the account row.
func (service *Service) OpenAccount(ctx context.Context, accountID AccountID, username Username, then ...HistoryInput) (Account, error) {
	account, err := NewAccount(accountID, username, service.now())
	if err == nil {
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := txStore.CreateAccount(ctx, account); err != nil {
				return err
			}
			for _, input := range then {
				if input.AccountID() != accountID {
					return fmt.Errorf("%w: %s", ErrAccountMismatch, input.AccountID())
				}
				if _, err := txStore.InsertHistory(ctx, input); err != nil {
					return err
				}
			}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		AccountID: accountID,
		Amount:    StartingBalance,
		Balance:   account.Balance,
		Subject:   username.String(),
		Error:     err,
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Balance returns the current balance, or zero when the account does not exist.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (Credits, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrUnknownAccount) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Account returns the balance and lifetime counters in one consistent read.
func (service *Service) Account(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// AccountIDForUsername resolves the administrative handle to an account id.
func (service *Service) AccountIDForUsername(ctx context.Context, username Username) (AccountID, error) {
	return service.store.FindAccountID(ctx, username)
}

// SetBalance overwrites the balance and moves the delta into the lifetime counters.
func (service *Service) SetBalance(ctx context.Context, accountID AccountID, newBalance Credits) (Account, error) {
	var updated Account
	err := service.mutate(ctx, accountID, func(ctx context.Context, txStore Store, current Account) (Account, error) {
		updated = current.WithBalance(newBalance, service.now())
		return updated, nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetBalance,
		AccountID: accountID,
		Amount:    newBalance,
		Balance:   updated.Balance,
		Error:     err,
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

// Deduct debits amount when the deduct policy allows it. A rejected debit
// returns false and leaves the account untouched.
func (service *Service) Deduct(ctx context.Context, accountID AccountID, amount Credits) (bool, error) {
	var updated Account
	err := validateAmount(amount)
	if err == nil {
		err = service.mutate(ctx, accountID, func(ctx context.Context, txStore Store, current Account) (Account, error) {
			if !service.deductPolicy.Allows(current.Balance, amount) {
				updated = current
				return Account{}, errDeductRejected
			}
			updated = current.WithBalance(current.Balance-amount, service.now())
			return updated, nil
		})
	}
	entry := OperationLog{
		Operation: operationDeduct,
		AccountID: accountID,
		Amount:    amount,
		Balance:   updated.Balance,
		Error:     err,
	}
	if errors.Is(err, errDeductRejected) {
		entry.Status = operationStatusRejected
		entry.Error = nil
		service.logOperation(ctx, entry)
		return false, nil
	}
	service.logOperation(ctx, entry)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplyLedgerChange moves the balance by delta and appends history in one transaction.
func (service *Service) ApplyLedgerChange(ctx context.Context, accountID AccountID, delta Credits, history HistoryInput) (Account, error) {
	return service.ApplyLedgerChangeFunc(ctx, accountID, func(Account) (LedgerChange, error) {
		return LedgerChange{Delta: delta, History: history}, nil
	})
}

// ApplyLedgerChangeFunc runs decide against the locked account and commits the
// returned change together with its history row. An error from decide aborts
// the unit of work and is returned unchanged.
func (service *Service) ApplyLedgerChangeFunc(ctx context.Context, accountID AccountID, decide func(current Account) (LedgerChange, error)) (Account, error) {
	var (
		updated Account
		change  LedgerChange
	)
	err := service.mutate(ctx, accountID, func(ctx context.Context, txStore Store, current Account) (Account, error) {
		var decideErr error
		change, decideErr = decide(current)
		if decideErr != nil {
			return Account{}, decideErr
		}
		if change.History.AccountID() != accountID {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountMismatch, change.History.AccountID())
		}
		updated = current.WithBalance(current.Balance+change.Delta, service.now())
		updated.Generations += change.GenerationsDelta
		if _, err := txStore.InsertHistory(ctx, change.History); err != nil {
			return Account{}, err
		}
		return updated, nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationLedgerChange,
		AccountID: accountID,
		Amount:    change.Delta,
		Balance:   updated.Balance,
		Subject:   change.History.Task(),
		Error:     err,
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

// AppendHistory records an entry that carries no balance movement.
func (service *Service) AppendHistory(ctx context.Context, input HistoryInput) (HistoryEntryID, error) {
	entryID, err := service.store.InsertHistory(ctx, input)
	service.logOperation(ctx, OperationLog{
		Operation: operationAppend,
		AccountID: input.AccountID(),
		Subject:   input.Task(),
		Error:     err,
	})
	return entryID, err
}

// ListHistory returns every entry of the account, newest first.
func (service *Service) ListHistory(ctx context.Context, accountID AccountID) ([]HistoryEntry, error) {
	return service.store.ListHistory(ctx, accountID, HistoryFilter{})
}

// ListGallery returns successful entries that produced a result, newest first.
func (service *Service) ListGallery(ctx context.Context, accountID AccountID) ([]HistoryEntry, error) {
	return service.store.ListHistory(ctx, accountID, HistoryFilter{GalleryOnly: true})
}

// ClearHistory deletes every entry of the account and then appends the given
// records, all in one transaction. It returns the number of deleted entries.
func (service *Service) ClearHistory(ctx context.Context, accountID AccountID, then ...HistoryInput) (int64, error) {
	var deleted int64
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		count, err := txStore.DeleteHistory(ctx, accountID)
		if err != nil {
			return err
		}
		deleted = count
		for _, input := range then {
			if input.AccountID() != accountID {
				return fmt.Errorf("%w: %s", ErrAccountMismatch, input.AccountID())
			}
			if _, err := txStore.InsertHistory(ctx, input); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationClearHistory,
		AccountID: accountID,
		Amount:    Credits(deleted),
		Error:     err,
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (service *Service) mutate(ctx context.Context, accountID AccountID, apply func(ctx context.Context, txStore Store, current Account) (Account, error)) error {
	if accountID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	unlock := service.locks.lock(accountID)
	defer unlock()
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := txStore.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		updated, err := apply(ctx, txStore, current)
		if err != nil {
			return err
		}
		return txStore.UpdateAccount(ctx, updated)
	})
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	LogOperation(ctx, service.logger, entry)
}

func validateAmount(amount Credits) error {
	if amount < 0 {
		return fmt.Errorf("%w: must be zero or greater", ErrInvalidCredits)
	}
	return nil
}
