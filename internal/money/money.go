// Package money represents monetary amounts as integer minor currency units
// (cents). All arithmetic in the checkout pipeline happens on integers;
// decimal conversion exists only at display and API boundaries.
package money

import (
	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor currency units.
type Amount int64

// Decimal converts the amount to a major-unit decimal (e.g. 2500 -> 25.00).
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats the amount in major units with two decimal places.
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Float64 returns the major-unit value for JSON display fields. Precision is
// sufficient for display; the integer amount stays authoritative.
func (a Amount) Float64() float64 {
	return a.Decimal().InexactFloat64()
}

// Mul multiplies the amount by a quantity.
func (a Amount) Mul(qty int) Amount {
	return a * Amount(qty)
}
