package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Amount is a monetary value in minor currency units (sen for MYR).
// All engine arithmetic happens on this type; decimal strings exist
// only at the API boundary.
type Amount int64

// Rate is a percentage expressed in basis points (6% == 600).
type Rate int64

// DefaultCurrency is the ledger currency for documents that do not
// specify one.
const DefaultCurrency = "MYR"

const (
	rateScale    = 10000
	minorPerUnit = 100
)

// ErrInvalidAmount indicates a boundary value that is not a valid
// 2-decimal monetary amount.
type InvalidAmountError struct {
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("money: invalid amount %q: %s", e.Value, e.Reason)
}

// Parse converts a decimal string with at most two fractional digits
// into minor units. Values with more precision are rejected rather
// than rounded: rounding happens where figures are produced, not where
// they enter the system.
func Parse(value string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, &InvalidAmountError{Value: value, Reason: "not a decimal"}
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal to minor units, rejecting sub-sen
// precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Mul(decimal.NewFromInt(minorPerUnit))
	if !minor.IsInteger() {
		return 0, &InvalidAmountError{Value: d.String(), Reason: "more than 2 fractional digits"}
	}
	return Amount(minor.IntPart()), nil
}

// MustParse is a test helper that panics on invalid input.
func MustParse(value string) Amount {
	a, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the amount as a 2-decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// ParseRate converts a percent string ("6", "10.25") into basis
// points. At most two fractional digits of percent are accepted.
func ParseRate(value string) (Rate, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, &InvalidAmountError{Value: value, Reason: "not a decimal"}
	}
	bp := d.Mul(decimal.NewFromInt(100))
	if !bp.IsInteger() {
		return 0, &InvalidAmountError{Value: value, Reason: "more than 2 fractional digits of percent"}
	}
	return Rate(bp.IntPart()), nil
}

// Percent renders the rate as a percent string.
func (r Rate) Percent() string {
	return decimal.New(int64(r), -2).String()
}

// ValidCurrency reports whether code is a recognised ISO 4217 unit.
func ValidCurrency(code string) error {
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("money: unknown currency %q: %w", code, err)
	}
	return nil
}

// mulRate multiplies a non-negative amount by a basis-point rate,
// rounding half-up. This is the only place a fraction can appear and
// it is immediately resolved to minor units.
func mulRate(a Amount, r Rate) Amount {
	return roundHalfUpDiv(int64(a)*int64(r), rateScale)
}

// roundHalfUpDiv divides n by d rounding half away from zero for the
// non-negative values used throughout the engine.
func roundHalfUpDiv(n, d int64) Amount {
	q := n / d
	rem := n % d
	if rem*2 >= d {
		q++
	}
	return Amount(q)
}
