// Package money holds fixed-point monetary amounts with two decimal places.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by an Amount.
const Scale = 2

// MaxAmount is the largest magnitude an amount or a balance partition may
// hold: ten trillion major units. Sums of a few such values stay inside int64.
const MaxAmount Amount = 1_000_000_000_000_000

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrPrecision     = errors.New("amount_precision_exceeded")
)

// Amount is a signed quantity in minor units (cents).
type Amount int64

func FromMinor(v int64) Amount { return Amount(v) }

// Parse reads a decimal string such as "12.5" or "100". More than two
// fractional digits is rejected rather than rounded.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d.String())
	}
	if !shifted.IsInteger() || shifted.Abs().GreaterThan(decimal.NewFromInt(int64(MaxAmount))) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	return Amount(shifted.IntPart()), nil
}

func (a Amount) Minor() int64 { return int64(a) }

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) IsNegative() bool { return a < 0 }

func (a Amount) IsZero() bool { return a == 0 }

func (a Amount) Neg() Amount { return -a }

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = 0
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
