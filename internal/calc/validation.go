package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateAmount checks if an amount is positive and within reasonable bounds
func ValidateAmount(amount decimal.Decimal, operation string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid %s amount: must be positive", operation)
	}

	// Amounts travel as uint64 smallest units on the ledger
	maxAmount := FromUint64(^uint64(0))
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("invalid %s amount: too large", operation)
	}

	if !amount.Equal(amount.Floor()) {
		return fmt.Errorf("invalid %s amount: must be a whole number of smallest units", operation)
	}

	return nil
}

// ParseAmount parses a decimal string holding smallest units.
func ParseAmount(s, operation string) (uint64, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s amount: %w", operation, err)
	}
	if err := ValidateAmount(amount, operation); err != nil {
		return 0, err
	}
	return FloorUint64(amount)
}

// ParseOptionalAmount is ParseAmount that treats "" and "0" as zero.
func ParseOptionalAmount(s, operation string) (uint64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return ParseAmount(s, operation)
}

// ValidateBalanceDelta returns after-before, failing when a balance that
// should have grown did not.
func ValidateBalanceDelta(before, after uint64, operation string) (uint64, error) {
	if after < before {
		return 0, fmt.Errorf("%s balance decreased from %d to %d", operation, before, after)
	}
	return after - before, nil
}
