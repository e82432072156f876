// Package decimalx provides small helpers that keep arithmetic on
// shopspring/decimal values terse. No package in this module imports it;
// the broker, matching engine and risk packages call shopspring/decimal
// directly.
package decimalx

import "github.com/shopspring/decimal"

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)
)

// Clamp restricts v to the closed interval [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Mid returns the arithmetic mean of two decimals.
func Mid(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(Two)
}

// Abs returns the absolute value of v.
func Abs(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return v.Neg()
	}
	return v
}

// SafeDiv divides a by b, returning zero instead of panicking/NaN when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// FromFloat wraps decimal.NewFromFloat for call-site brevity.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
