// Package money holds amounts as integer minor units (cents). Decimal strings only appear at the API edge.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a currency amount in minor units.
type Amount int64

const scale = 2

// Max is the largest magnitude any single amount may have: 1,000,000.00.
const Max Amount = 1_000_000_00

// Parse converts a decimal string such as "150.00" into an Amount. More than two fractional digits is an error.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return FromDecimal(d)
}

// FromDecimal converts d to minor units, rejecting sub-cent precision and magnitudes beyond Max.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	cents := d.Shift(scale)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), scale)
	}
	if cents.Abs().GreaterThan(decimal.NewFromInt(int64(Max))) {
		return 0, fmt.Errorf("amount %s exceeds the maximum of %s", d.String(), Max)
	}
	return Amount(cents.IntPart()), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Cents() int64 { return int64(a) }

func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), -scale) }

func (a Amount) String() string { return a.Decimal().StringFixed(scale) }

// Percent returns the basis-point share of a, rounded down.
func (a Amount) Percent(bps int) Amount {
	return Amount(int64(a) * int64(bps) / 10000)
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "150.00" and 150.00.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
