package account

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// Domain-level error values returned by the account service.
var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrUnknownFeature       = errors.New("unknown feature")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// InsufficientCreditsError reports a debit the balance could not cover.
type InsufficientCreditsError struct {
	Requested ledger.Credits
	Available ledger.Credits
}

// Error returns the rejection reason.
func (insufficient InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%v: cannot deduct %d credits, only has %d credits", ErrInsufficientCredits, insufficient.Requested, insufficient.Available)
}

// Is matches ErrInsufficientCredits.
func (insufficient InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Message is the operator-facing rejection text.
func (insufficient InsufficientCreditsError) Message() string {
	return fmt.Sprintf("Error: Cannot deduct %d credits. User only has %d credits.", insufficient.Requested, insufficient.Available)
}
