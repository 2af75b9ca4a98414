package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	operationCharge      = "charge"
	operationAdjust      = "adjust"
	operationFailedUsage = "record_failure"
)

// Ledger is the subset of the ledger service used by account workflows.
type Ledger interface {
	OpenAccount(ctx context.Context, accountID ledger.AccountID, username ledger.Username, then ...ledger.HistoryInput) (ledger.Account, error)
	Account(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error)
	AccountIDForUsername(ctx context.Context, username ledger.Username) (ledger.AccountID, error)
	ApplyLedgerChangeFunc(ctx context.Context, accountID ledger.AccountID, decide func(current ledger.Account) (ledger.LedgerChange, error)) (ledger.Account, error)
	AppendHistory(ctx context.Context, input ledger.HistoryInput) (ledger.HistoryEntryID, error)
	ListHistory(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error)
	ListGallery(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error)
	ClearHistory(ctx context.Context, accountID ledger.AccountID, then ...ledger.HistoryInput) (int64, error)
	DeductPolicy() ledger.DeductPolicy
}

// Adjustment is the outcome of an administrative balance change.
type Adjustment struct {
	Username        ledger.Username
	Amount          int64
	PreviousBalance ledger.Credits
	NewBalance      ledger.Credits
}

// Message is the operator-facing confirmation.
func (adjustment Adjustment) Message() string {
	return fmt.Sprintf("Successfully adjusted credits by %+d for %s. New balance: %d", adjustment.Amount, adjustment.Username, adjustment.NewBalance)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOperationLogger reports charges and adjustments.
func WithOperationLogger(logger ledger.OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// Service runs account-level workflows on top of the ledger.
type Service struct {
	ledger Ledger
	nowFn  func() time.Time
	logger ledger.OperationLogger
}

// NewService wires a Service.
func NewService(ledgerService Ledger, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{ledger: ledgerService, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Open creates the account and records its creation.
func (service *Service) Open(ctx context.Context, accountID ledger.AccountID, username ledger.Username) (ledger.Account, error) {
	history, err := service.userAction(accountID, "Account Created", fmt.Sprintf("Account opened with %d credits", ledger.StartingBalance))
	if err != nil {
		return ledger.Account{}, err
	}
	return service.ledger.OpenAccount(ctx, accountID, username, history)
}

// Ensure returns the account, opening it first when it does not exist yet.
// When the preferred username already belongs to another account, the account
// is opened under its id instead.
func (service *Service) Ensure(ctx context.Context, accountID ledger.AccountID, username ledger.Username) (ledger.Account, error) {
	account, err := service.ledger.Account(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrUnknownAccount) {
		return ledger.Account{}, err
	}
	for _, candidate := range usernameCandidates(accountID, username) {
		account, err = service.Open(ctx, accountID, candidate)
		if !errors.Is(err, ledger.ErrAccountExists) {
			return account, err
		}
		existing, lookupErr := service.ledger.Account(ctx, accountID)
		if lookupErr == nil {
			return existing, nil
		}
		if !errors.Is(lookupErr, ledger.ErrUnknownAccount) {
			return ledger.Account{}, lookupErr
		}
	}
	return ledger.Account{}, err
}

func usernameCandidates(accountID ledger.AccountID, preferred ledger.Username) []ledger.Username {
	candidates := []ledger.Username{preferred}
	for _, raw := range []string{accountID.String(), accountID.String() + "#" + uuid.NewString()[:8]} {
		username, err := ledger.NewUsername(raw)
		if err != nil || username == preferred {
			continue
		}
		candidates = append(candidates, username)
	}
	return candidates
}

// Charge debits the feature cost, counts a generation and records the action,
// all in one unit of work. A rejected debit records nothing.
func (service *Service) Charge(ctx context.Context, accountID ledger.AccountID, action BillableAction) (ledger.Account, error) {
	cost := action.Feature.Cost()
	account, err := service.charge(ctx, accountID, action, cost)
	service.logOperation(ctx, operationCharge, accountID, cost, account.Balance, action.Feature.String(), err)
	return account, err
}

func (service *Service) charge(ctx context.Context, accountID ledger.AccountID, action BillableAction, cost ledger.Credits) (ledger.Account, error) {
	if _, err := ParseFeature(action.Feature.String()); err != nil {
		return ledger.Account{}, err
	}
	var resultRef *ledger.ResultRef
	if action.ResultRef != "" {
		ref, err := ledger.NewResultRef(action.ResultRef)
		if err != nil {
			return ledger.Account{}, err
		}
		resultRef = &ref
	}
	history, err := ledger.NewHistoryInput(accountID, action.category(), action.task(), action.Detail, ledger.HistoryStatusSuccess, service.nowFn(), resultRef, ledger.MetadataJSON{})
	if err != nil {
		return ledger.Account{}, err
	}
	policy := service.ledger.DeductPolicy()
	return service.ledger.ApplyLedgerChangeFunc(ctx, accountID, func(current ledger.Account) (ledger.LedgerChange, error) {
		if !policy.Allows(current.Balance, cost) {
			return ledger.LedgerChange{}, InsufficientCreditsError{Requested: cost, Available: current.Balance}
		}
		return ledger.LedgerChange{Delta: -cost, GenerationsDelta: 1, History: history}, nil
	})
}

// RecordFailure records a failed feature use without debiting.
func (service *Service) RecordFailure(ctx context.Context, accountID ledger.AccountID, action BillableAction) (ledger.HistoryEntryID, error) {
	history, err := ledger.NewHistoryInput(accountID, action.category(), action.task(), action.Detail, ledger.HistoryStatusFailed, service.nowFn(), nil, ledger.MetadataJSON{})
	var entryID ledger.HistoryEntryID
	if err == nil {
		entryID, err = service.ledger.AppendHistory(ctx, history)
	}
	service.logOperation(ctx, operationFailedUsage, accountID, 0, 0, action.Feature.String(), err)
	return entryID, err
}

// Adjust adds amount (negative to deduct) to the balance of username. A
// deduction that would leave the balance negative is refused.
func (service *Service) Adjust(ctx context.Context, username ledger.Username, amount int64) (Adjustment, error) {
	adjustment, accountID, err := service.adjust(ctx, username, amount)
	service.logOperation(ctx, operationAdjust, accountID, ledger.Credits(amount), adjustment.NewBalance, username.String(), err)
	return adjustment, err
}

func (service *Service) adjust(ctx context.Context, username ledger.Username, amount int64) (Adjustment, ledger.AccountID, error) {
	accountID, err := service.ledger.AccountIDForUsername(ctx, username)
	if err != nil {
		return Adjustment{}, ledger.AccountID{}, err
	}
	adjustment := Adjustment{Username: username, Amount: amount}
	_, err = service.ledger.ApplyLedgerChangeFunc(ctx, accountID, func(current ledger.Account) (ledger.LedgerChange, error) {
		newBalance := current.Balance + ledger.Credits(amount)
		if newBalance < 0 {
			return ledger.LedgerChange{}, InsufficientCreditsError{Requested: ledger.Credits(-amount), Available: current.Balance}
		}
		history, err := ledger.NewHistoryInput(
			accountID,
			ledger.CategoryCreditUpdate,
			fmt.Sprintf("Adjusted credits by %+d", amount),
			fmt.Sprintf("Previous balance: %d | New balance: %d", current.Balance, newBalance),
			ledger.HistoryStatusSuccess,
			service.nowFn(),
			nil,
			ledger.MetadataJSON{},
		)
		if err != nil {
			return ledger.LedgerChange{}, err
		}
		adjustment.PreviousBalance = current.Balance
		adjustment.NewBalance = newBalance
		return ledger.LedgerChange{Delta: ledger.Credits(amount), History: history}, nil
	})
	if err != nil {
		return Adjustment{}, accountID, err
	}
	return adjustment, accountID, nil
}

// ClearHistory deletes the account history and records that it did so.
func (service *Service) ClearHistory(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	followUp, err := service.userAction(accountID, "Clear History", "All previous user history has been deleted")
	if err != nil {
		return 0, err
	}
	return service.ledger.ClearHistory(ctx, accountID, followUp)
}

// History returns the account history, newest first.
func (service *Service) History(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error) {
	return service.ledger.ListHistory(ctx, accountID)
}

// Gallery returns successful results, newest first.
func (service *Service) Gallery(ctx context.Context, accountID ledger.AccountID) ([]ledger.HistoryEntry, error) {
	return service.ledger.ListGallery(ctx, accountID)
}

// Stats returns balance and lifetime counters.
func (service *Service) Stats(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return service.ledger.Account(ctx, accountID)
}

// Costs lists the credit cost of every feature.
func (service *Service) Costs() map[Feature]ledger.Credits {
	costs := make(map[Feature]ledger.Credits, len(featureCosts))
	for feature, cost := range featureCosts {
		costs[feature] = cost
	}
	return costs
}

func (service *Service) userAction(accountID ledger.AccountID, task string, detail string) (ledger.HistoryInput, error) {
	return ledger.NewHistoryInput(accountID, ledger.CategoryUserActions, task, detail, ledger.HistoryStatusSuccess, service.nowFn(), nil, ledger.MetadataJSON{})
}

func (service *Service) logOperation(ctx context.Context, operation string, accountID ledger.AccountID, amount ledger.Credits, balance ledger.Credits, subject string, err error) {
	entry := ledger.OperationLog{
		Operation: operation,
		AccountID: accountID,
		Amount:    amount,
		Balance:   balance,
		Subject:   subject,
		Error:     err,
	}
	if errors.Is(err, ErrInsufficientCredits) {
		entry.Status = ledger.StatusRejected()
	}
	ledger.LogOperation(ctx, service.logger, entry)
}
