package calc

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

// ValidateAmount checks that an amount is a positive integer that fits in u128.
func ValidateAmount(amount decimal.Decimal, operation string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: invalid %s amount: must be positive", apperr.ErrValidation, operation)
	}
	return ValidateWireAmount(amount, operation)
}

// ValidateWireAmount checks that an amount is a non-negative integer that fits in u128.
func ValidateWireAmount(amount decimal.Decimal, operation string) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: invalid %s amount: cannot be negative", apperr.ErrValidation, operation)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: invalid %s amount: must be an integer", apperr.ErrValidation, operation)
	}
	if amount.GreaterThan(MaxU128) {
		return fmt.Errorf("%w: invalid %s amount: exceeds u128", apperr.ErrValidation, operation)
	}
	return nil
}

// ValidateMinReceived checks if the output meets minimum requirements (slippage protection)
func ValidateMinReceived(actualOutput, minReceived decimal.Decimal, operation string) error {
	if actualOutput.LessThan(minReceived) {
		return fmt.Errorf("%w: %s output %s less than minimum required %s",
			apperr.ErrSlippageExceeded, operation, actualOutput.String(), minReceived.String())
	}
	return nil
}

// ValidateMaxSpent checks that an input stays within the caller's ceiling.
func ValidateMaxSpent(actualInput, maxSpent decimal.Decimal, operation string) error {
	if actualInput.GreaterThan(maxSpent) {
		return fmt.Errorf("%w: %s input %s exceeds maximum allowed %s",
			apperr.ErrSlippageExceeded, operation, actualInput.String(), maxSpent.String())
	}
	return nil
}

// ValidateFee checks a basis-point swap fee.
func ValidateFee(feeBps decimal.Decimal) error {
	if err := ValidateWireAmount(feeBps, "swap fee"); err != nil {
		return err
	}
	if feeBps.GreaterThanOrEqual(FeeDenominator) {
		return fmt.Errorf("%w: swap fee %s must be below %s", apperr.ErrValidation, feeBps, FeeDenominator)
	}
	return nil
}

// ParseAmount parses a u128 decimal string as sent over the wire.
func ParseAmount(raw, field string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", apperr.ErrValidation, field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", apperr.ErrValidation, field, err)
	}
	if err := ValidateWireAmount(d, field); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
