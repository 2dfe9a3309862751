// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package money holds the monetary primitives shared by the ledger domains.
// All amounts are integer minor currency units; floating point values are
// only accepted at the edge and are converted exactly or rejected.
package money

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"
)

// Cents is an amount of money in minor currency units.
type Cents int64

// FromFloat converts a float amount of cents into Cents. Non-finite and
// fractional values are rejected.
func FromFloat(v float64) (Cents, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NotValidf("non-finite amount %v", v)
	}
	if v != math.Trunc(v) {
		return 0, errors.NotValidf("fractional cents amount %v", v)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is itself out of range.
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, errors.NotValidf("amount %v out of range", v)
	}
	return Cents(v), nil
}

// ApplyRate returns amount*rate rounded to the nearest cent, with halves
// rounded away from zero.
func ApplyRate(amount Cents, rate decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(amount)).Mul(rate).Round(0).IntPart())
}

// ParseRate parses a decimal rate such as "0.06". The rate must lie in the
// half-open interval (0, 1].
func ParseRate(s string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.NotValidf("rate %q", s)
	}
	if !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.NotValidf("rate %q outside (0, 1]", s)
	}
	return rate, nil
}

// IsPositive reports whether the amount is greater than zero.
func (c Cents) IsPositive() bool {
	return c > 0
}

// String renders the amount as dollars, e.g. "$1,234.05".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%s.%02d", sign, humanize.Comma(v/100), v%100)
}
