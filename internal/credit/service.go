package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	operationPurchase = "purchase"
	operationRedeem   = "redeem"
)

// Ledger is the subset of the ledger service used for purchases and redemptions.
type Ledger interface {
	ApplyLedgerChange(ctx context.Context, accountID ledger.AccountID, delta ledger.Credits, history ledger.HistoryInput) (ledger.Account, error)
	AppendHistory(ctx context.Context, input ledger.HistoryInput) (ledger.HistoryEntryID, error)
}

// Purchase describes an approved bundle purchase.
type Purchase struct {
	Bundle        Bundle
	PINCode       string
	TransactionID string
}

// Message is the confirmation shown to the buyer.
func (purchase Purchase) Message() string {
	return fmt.Sprintf("Purchase successful. Your PIN code is: %s", purchase.PINCode)
}

// Redemption describes a redeemed PIN.
type Redemption struct {
	Bundle     Bundle
	Credits    ledger.Credits
	NewBalance ledger.Credits
}

// Message is the confirmation shown to the redeemer.
func (redemption Redemption) Message() string {
	return fmt.Sprintf("Successfully added %d credits. New balance: %d", redemption.Credits, redemption.NewBalance)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOperationLogger reports purchases and redemptions.
func WithOperationLogger(logger ledger.OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// Service sells credit bundles as PINs and redeems PINs into balances.
type Service struct {
	ledger   Ledger
	pins     *PINRegistry
	payments PaymentProcessor
	nowFn    func() time.Time
	logger   ledger.OperationLogger
}

// NewService wires a Service.
func NewService(ledgerService Ledger, pins *PINRegistry, payments PaymentProcessor, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if pins == nil {
		return nil, fmt.Errorf("%w: pin registry is nil", ErrInvalidServiceConfig)
	}
	if payments == nil {
		return nil, fmt.Errorf("%w: payment processor is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{ledger: ledgerService, pins: pins, payments: payments, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Bundles lists the purchasable bundles.
func (service *Service) Bundles() []Bundle {
	return Bundles()
}

// Purchase charges the account for a bundle and issues a redemption PIN.
// Unknown bundles are rejected without history; declined payments are recorded.
func (service *Service) Purchase(ctx context.Context, accountID ledger.AccountID, bundleName string) (Purchase, error) {
	purchase, err := service.purchase(ctx, accountID, bundleName)
	service.logOperation(ctx, operationPurchase, accountID, purchase.Bundle.Credits(), bundleName, err)
	return purchase, err
}

func (service *Service) purchase(ctx context.Context, accountID ledger.AccountID, bundleName string) (Purchase, error) {
	bundle, err := ParseBundle(bundleName)
	if err != nil {
		return Purchase{}, err
	}
	payment, err := service.payments.Charge(ctx, accountID, bundle)
	if err != nil {
		return Purchase{}, err
	}
	if !payment.Approved {
		history, err := service.topupHistory(accountID, fmt.Sprintf("Attempted to purchase %d credits", bundle.Credits()), bundle.packageDetail(), ledger.HistoryStatusFailed, payment.TransactionID)
		if err != nil {
			return Purchase{}, err
		}
		if _, err := service.ledger.AppendHistory(ctx, history); err != nil {
			return Purchase{}, err
		}
		return Purchase{}, PaymentDeclinedError{TransactionID: payment.TransactionID, Message: payment.Message}
	}

	code, err := service.pins.Issue(bundle)
	if err != nil {
		return Purchase{}, err
	}
	detail := fmt.Sprintf("%s | PIN Code: %s", bundle.packageDetail(), code)
	history, err := service.topupHistory(accountID, fmt.Sprintf("Purchased %d credits", bundle.Credits()), detail, ledger.HistoryStatusSuccess, payment.TransactionID)
	if err == nil {
		_, err = service.ledger.AppendHistory(ctx, history)
	}
	if err != nil {
		service.pins.Revoke(code)
		return Purchase{}, err
	}
	return Purchase{Bundle: bundle, PINCode: code, TransactionID: payment.TransactionID}, nil
}

// Redeem consumes a PIN and credits its bundle to the account. A PIN that is
// unknown or being redeemed by someone else yields ErrInvalidPIN. When the
// credit cannot be committed the PIN stays redeemable.
func (service *Service) Redeem(ctx context.Context, accountID ledger.AccountID, code string) (Redemption, error) {
	redemption, err := service.redeem(ctx, accountID, code)
	service.logOperation(ctx, operationRedeem, accountID, redemption.Credits, redemption.Bundle.String(), err)
	return redemption, err
}

func (service *Service) redeem(ctx context.Context, accountID ledger.AccountID, code string) (Redemption, error) {
	bundle, err := service.pins.Claim(code)
	if err != nil {
		return Redemption{}, err
	}
	history, err := service.topupHistory(accountID, fmt.Sprintf("Redeemed %d credits", bundle.Credits()), bundle.packageDetail(), ledger.HistoryStatusSuccess, "")
	if err != nil {
		service.pins.Release(code)
		return Redemption{}, err
	}
	account, err := service.ledger.ApplyLedgerChange(ctx, accountID, bundle.Credits(), history)
	if err != nil {
		service.pins.Release(code)
		return Redemption{}, err
	}
	service.pins.Complete(code)
	return Redemption{Bundle: bundle, Credits: bundle.Credits(), NewBalance: account.Balance}, nil
}

func (service *Service) topupHistory(accountID ledger.AccountID, task string, detail string, status ledger.HistoryStatus, transactionID string) (ledger.HistoryInput, error) {
	fields := map[string]any{}
	if transactionID != "" {
		fields["transaction_id"] = transactionID
	}
	metadata, err := ledger.MetadataFromFields(fields)
	if err != nil {
		return ledger.HistoryInput{}, err
	}
	return ledger.NewHistoryInput(accountID, ledger.CategoryCreditTopup, task, detail, status, service.nowFn(), nil, metadata)
}

func (service *Service) logOperation(ctx context.Context, operation string, accountID ledger.AccountID, amount ledger.Credits, subject string, err error) {
	entry := ledger.OperationLog{
		Operation: operation,
		AccountID: accountID,
		Amount:    amount,
		Subject:   subject,
		Error:     err,
	}
	if _, rejected := RejectionMessage(err); rejected {
		entry.Status = ledger.StatusRejected()
	}
	ledger.LogOperation(ctx, service.logger, entry)
}

// IsRejection reports whether err is a business rejection rather than a failure.
func IsRejection(err error) bool {
	_, rejected := RejectionMessage(err)
	return rejected
}
