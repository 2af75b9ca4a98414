package credit

import (
	"errors"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// Domain-level error values returned by the credit service.
var (
	ErrInvalidBundle        = errors.New("invalid bundle size")
	ErrInvalidPIN           = errors.New("invalid pin code")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrPINSpaceExhausted    = errors.New("could not allocate a unique pin code")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

const (
	messageInvalidBundle = "Invalid bundle size"
	messageInvalidPIN    = "Invalid PIN code"
	messagePaymentFailed = "Payment failed. Please try again."
)

// RejectionMessage returns the user-facing text for a business rejection and
// false for any other error, which callers must treat as a server failure.
func RejectionMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInvalidBundle):
		return messageInvalidBundle, true
	case errors.Is(err, ErrInvalidPIN):
		return messageInvalidPIN, true
	case errors.Is(err, ErrPaymentDeclined):
		var declined PaymentDeclinedError
		if errors.As(err, &declined) && declined.Message != "" {
			return declined.Message, true
		}
		return messagePaymentFailed, true
	case errors.Is(err, ledger.ErrUnknownAccount):
		return "Account not found", true
	default:
		return "", false
	}
}

// PaymentDeclinedError carries the processor's decline message.
type PaymentDeclinedError struct {
	TransactionID string
	Message       string
}

// Error returns the decline message.
func (declined PaymentDeclinedError) Error() string {
	return ErrPaymentDeclined.Error() + ": " + declined.Message
}

// Is matches ErrPaymentDeclined.
func (declined PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}
