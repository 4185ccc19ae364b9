package models

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every currency amount carries.
const MoneyPlaces = 2

// Money is a currency amount as presented to API clients. It marshals to a
// JSON string with exactly two decimal places ("10.00").
type Money struct {
	decimal.Decimal
}

// NewMoney wraps d
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(MoneyPlaces) + `"`), nil
}

// FormatMoney renders d the way amounts are stored and presented
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}
