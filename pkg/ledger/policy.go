package ledger

import (
	"fmt"
	"strings"
)

// DeductPolicy decides whether a balance may be debited by an amount.
type DeductPolicy string

const (
	// DeductPolicyPositiveBalance allows a debit whenever the balance is above zero,
	// even if the amount exceeds it.
	DeductPolicyPositiveBalance DeductPolicy = "positive-balance"
	// DeductPolicyCoverAmount allows a debit only when the balance covers the amount.
	DeductPolicyCoverAmount DeductPolicy = "cover-amount"
)

// ParseDeductPolicy validates a configured policy name.
func ParseDeductPolicy(raw string) (DeductPolicy, error) {
	switch DeductPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case DeductPolicyPositiveBalance:
		return DeductPolicyPositiveBalance, nil
	case DeductPolicyCoverAmount:
		return DeductPolicyCoverAmount, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDeductPolicy, raw)
	}
}

// Allows reports whether balance may be debited by amount.
func (policy DeductPolicy) Allows(balance Credits, amount Credits) bool {
	switch policy {
	case DeductPolicyCoverAmount:
		return balance >= amount
	default:
		return balance > 0
	}
}

// String returns the policy name.
func (policy DeductPolicy) String() string {
	return string(policy)
}
