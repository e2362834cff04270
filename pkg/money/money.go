// Package money holds the decimal arithmetic shared by every finance component.
// Amounts are always rounded to cents at the point they are computed.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// Epsilon is the tolerance used when deciding whether a payment is fully refunded.
	Epsilon = decimal.RequireFromString("0.005")
)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns pct percent of amount, rounded to cents.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

// Clamp bounds d to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Max(lo, decimal.Min(d, hi))
}

// NonNegative floors d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, d)
}

// Sum adds the provided amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Covers reports whether paid reaches target within Epsilon.
func Covers(paid, target decimal.Decimal) bool {
	return target.Sub(paid).LessThan(Epsilon)
}

// ToMinorUnits converts an amount to integer cents for gateway calls.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Parse reads a user supplied amount and rejects more than two decimals.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.Exponent() < -2 && !d.Equal(Round2(d)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than two decimal places", raw)
	}
	return d, nil
}

// Points converts a spent amount into whole loyalty points.
func Points(spent decimal.Decimal) int64 {
	if spent.IsNegative() {
		return 0
	}
	return spent.Round(0).IntPart()
}
