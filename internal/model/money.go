package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a money value in minor units (paise). Keeping an integer
// internally avoids the rounding drift that plain floats accumulate across
// encode/decode/display; decimals exist only at the wire boundary.
type Amount int64

// ErrBadAmount is returned when a wire value is not representable in paise.
var ErrBadAmount = errors.New("amount not representable in minor units")

// AmountFromDecimal converts a wire decimal (rupees) to paise.
// Values with more than two fractional digits are rejected, not rounded.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrBadAmount, d.String())
	}
	return Amount(shifted.IntPart()), nil
}

// AmountFromString parses a decimal rupee string into paise.
func AmountFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return AmountFromDecimal(d)
}

// Decimal returns the rupee value for wire and display use.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// String formats with two fractional digits, e.g. "2500.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MarshalJSON emits the rupee decimal as a JSON number, matching the
// QR/sync wire contract.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal().String()), nil
}

// UnmarshalJSON accepts a JSON number or numeric string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var raw json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		// fall back to quoted numbers, some producers emit "2500.00"
		var s string
		if err2 := json.Unmarshal(b, &s); err2 != nil {
			return fmt.Errorf("%w: %s", ErrBadAmount, string(b))
		}
		raw = json.Number(s)
	}
	d, err := decimal.NewFromString(raw.String())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadAmount, raw.String())
	}
	v, err := AmountFromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
