package models

import (
	"database/sql/driver"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point amount with two decimal places. It scans from
// numeric columns and serialises as a string such as "665.00".
type Money struct {
	decimal.Decimal
}

// NewMoney rounds d half-up to two places.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d.Round(2)}
}

// MustMoney parses s and panics on malformed input. Intended for constants and tests.
func MustMoney(s string) Money {
	return NewMoney(decimal.RequireFromString(s))
}

func (m Money) String() string {
	return m.StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// Value writes the amount as a 2-decimal string.
func (m Money) Value() (driver.Value, error) {
	return m.StringFixed(2), nil
}
