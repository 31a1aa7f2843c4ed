// Package money centralizes decimal arithmetic so no monetary computation
// anywhere in the engine touches a binary float. Every amount is a
// shopspring/decimal.Decimal; the only rounding mode in use is round-down
// truncation, applied at the single Scale the engine is configured for.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits retained after any rounding
// operation. The spec requires at least 20 significant digits, which
// decimal.Decimal carries internally regardless of Scale; Scale only bounds
// the precision exposed at comparison/persistence boundaries.
const Scale = 20

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Epsilon is the dust floor below which a remaining quantity is treated as
// fully consumed (spec §4.2, ReadModel.openOrdersForPair).
var Epsilon = decimal.New(1, -7)

// RoundDown truncates d to Scale fractional digits, rounding toward zero.
// This is the engine's one and only rounding rule (spec §3, §9).
func RoundDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Mul multiplies two amounts and truncates the result.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return RoundDown(a.Mul(b))
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// IsPositive reports whether d is strictly greater than zero.
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

// IsDust reports whether d falls below the given per-asset dust threshold.
// A zero or negative threshold disables dust suppression for that asset.
func IsDust(d decimal.Decimal, threshold decimal.Decimal) bool {
	if threshold.Sign() <= 0 {
		return false
	}
	return d.Cmp(threshold) < 0
}

// AboveEpsilon reports whether d exceeds the book-display epsilon used to
// discard floating leftovers of fully-filled orders (spec §4.2).
func AboveEpsilon(d decimal.Decimal) bool {
	return d.Cmp(Epsilon) > 0
}
