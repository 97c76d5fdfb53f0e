// Package money provides the fixed-point amount type used by the engine.
//
// An Amount is an integer count of a currency's minor unit (cents for USD,
// cents for KES, whole yen for JPY). Arithmetic on amounts is exact; decimal
// math (rates, percentages) goes through shopspring/decimal and is rounded
// back to the minor unit with banker's rounding.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a decimal string cannot be represented
// in the currency's minor unit.
var ErrInvalidAmount = errors.New("invalid monetary amount")

// DefaultScale is used for currencies missing from the scale table.
const DefaultScale int32 = 2

var scales = map[string]int32{
	"KES": 2,
	"UGX": 0,
	"TZS": 2,
	"NOK": 2,
	"EUR": 2,
	"USD": 2,
	"GBP": 2,
	"JPY": 0,
	"BHD": 3,
}

// Scale returns the number of minor-unit digits for a currency code.
func Scale(currency string) int32 {
	if s, ok := scales[strings.ToUpper(currency)]; ok {
		return s
	}
	return DefaultScale
}

// Amount is a monetary value in minor units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// FromDecimal converts a decimal value already expressed in minor units to
// an Amount, rounding half-even.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.RoundBank(0).IntPart())
}

// FromMajor converts a major-unit decimal (e.g. 100.25) to minor units for
// the given scale, rounding half-even.
func FromMajor(d decimal.Decimal, scale int32) Amount {
	return FromDecimal(d.Shift(scale))
}

// Parse reads a major-unit decimal string such as "1500.50". Strings with
// more fractional digits than the scale allows are rejected.
func Parse(s string, scale int32) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := d.Shift(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, s, scale)
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in minor units as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Major returns the amount in major units for the given scale.
func (a Amount) Major(scale int32) decimal.Decimal {
	return decimal.New(int64(a), -scale)
}

// Format renders the amount as a major-unit string with exactly scale
// fractional digits.
func (a Amount) Format(scale int32) string {
	return a.Major(scale).StringFixed(scale)
}

// MulRate multiplies the amount by a percentage (e.g. 5 for 5%) and rounds
// the result half-even to the minor unit.
func (a Amount) MulRate(percent decimal.Decimal) Amount {
	return FromDecimal(a.Decimal().Mul(percent).Div(decimal.NewFromInt(100)))
}

// Neg returns the amount with its sign flipped.
func (a Amount) Neg() Amount { return -a }

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a > 0 }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
