package credit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// PaymentResult is the outcome of a simulated charge.
type PaymentResult struct {
	Approved      bool
	TransactionID string
	Message       string
}

// PaymentProcessor charges an account for a bundle.
type PaymentProcessor interface {
	Charge(ctx context.Context, accountID ledger.AccountID, bundle Bundle) (PaymentResult, error)
}

// Payment modes accepted by ParsePaymentMode.
const (
	PaymentModeRandom  = "random"
	PaymentModeApprove = "approve"
	PaymentModeDecline = "decline"
)

// RandomPayments approves roughly half of all charges.
type RandomPayments struct{}

// Charge flips a coin.
func (RandomPayments) Charge(ctx context.Context, accountID ledger.AccountID, bundle Bundle) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	return paymentResult(rand.IntN(2) == 0), nil
}

// StaticPayments always returns the same decision.
type StaticPayments struct {
	Approve bool
}

// Charge returns the configured decision.
func (payments StaticPayments) Charge(ctx context.Context, accountID ledger.AccountID, bundle Bundle) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	return paymentResult(payments.Approve), nil
}

// ParsePaymentMode builds the processor named by a configuration value.
func ParsePaymentMode(raw string) (PaymentProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PaymentModeRandom, "":
		return RandomPayments{}, nil
	case PaymentModeApprove:
		return StaticPayments{Approve: true}, nil
	case PaymentModeDecline:
		return StaticPayments{Approve: false}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payment mode %q", ErrInvalidServiceConfig, raw)
	}
}

func paymentResult(approved bool) PaymentResult {
	result := PaymentResult{Approved: approved, TransactionID: uuid.NewString()}
	if !approved {
		result.Message = messagePaymentFailed
	}
	return result
}
