// Package money defines the fixed-point amount contract shared by the
// ledger and budget packages: two fraction digits, up to fifteen integer
// digits, no floating point anywhere.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// FractionDigits is the scale every stored amount is normalized to.
	FractionDigits = 2
	// MaxIntegerDigits bounds the magnitude of any accepted amount.
	MaxIntegerDigits = 15
)

// AmountError reports a rejected amount. It is a validation failure and
// never causes a mutation.
type AmountError struct {
	Value  string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Value, e.Reason)
}

// Parse parses a decimal string and validates it as a positive amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &AmountError{Value: s, Reason: "not a decimal number"}
	}
	if err := ValidatePositive(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidatePositive checks that d is a well-formed operation amount:
// strictly positive, at most two fraction digits, at most fifteen
// integer digits.
func ValidatePositive(d decimal.Decimal) error {
	if d.Sign() <= 0 {
		return &AmountError{Value: d.String(), Reason: "must be greater than zero"}
	}
	return ValidateScale(d)
}

// ValidateScale checks precision only, without a sign constraint. Balances
// may legitimately be negative for liability account kinds.
func ValidateScale(d decimal.Decimal) error {
	if d.Exponent() < -FractionDigits {
		return &AmountError{Value: d.String(), Reason: fmt.Sprintf("more than %d fraction digits", FractionDigits)}
	}
	if integerDigits(d) > MaxIntegerDigits {
		return &AmountError{Value: d.String(), Reason: fmt.Sprintf("more than %d integer digits", MaxIntegerDigits)}
	}
	return nil
}

// Normalize rescales d to exactly two fraction digits for storage and
// comparison. Amounts that pass ValidateScale never lose precision here.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(FractionDigits)
}

// Equal reports whether two amounts are numerically identical. Decimal
// comparison is exact, so the incremental and recomputed budget totals
// must agree to the cent.
func Equal(a, b decimal.Decimal) bool {
	return a.Cmp(b) == 0
}

func integerDigits(d decimal.Decimal) int {
	abs := d.Abs().Truncate(0)
	if abs.IsZero() {
		return 1
	}
	return len(abs.String())
}
