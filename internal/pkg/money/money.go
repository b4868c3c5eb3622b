// Package money holds the integer minor-unit amount type and the single
// rounding rule used for commission math: round half up to the minor unit.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PercentageScale is the number of decimal places a stored percentage keeps.
const PercentageScale = 4

// Amount is a currency amount in minor units (paise, cents).
type Amount int64

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)

	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrPercentageScale   = fmt.Errorf("percentage must have at most %d decimal places", PercentageScale)
)

// Decimal returns the amount as a decimal in minor units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Major renders the amount in major units with two decimals, e.g. 10050 -> "100.50".
func (a Amount) Major() string {
	return decimal.New(int64(a), -2).StringFixed(2)
}

// Format renders the amount with its currency code for notifications and statements.
func (a Amount) Format(currency string) string {
	return fmt.Sprintf("%s %s", strings.ToUpper(currency), a.Major())
}

// RoundHalfUp rounds d to a whole number of minor units, ties toward +inf.
func RoundHalfUp(d decimal.Decimal) Amount {
	return Amount(d.Add(half).Floor().IntPart())
}

// Percentage returns round_half_up(a * pct / 100).
func Percentage(a Amount, pct decimal.Decimal) Amount {
	return RoundHalfUp(a.Decimal().Mul(pct).Div(hundred))
}

// Sum adds amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// ParsePercentage parses a commission percentage such as "10" or "2.5".
func ParsePercentage(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	if err := ValidatePercentage(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidatePercentage checks 0 <= pct <= 100 and that pct fits in
// PercentageScale decimal places. Trailing zeros do not count.
func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	if !pct.Equal(pct.Truncate(PercentageScale)) {
		return ErrPercentageScale
	}
	return nil
}
