package models

import "github.com/shopspring/decimal"

func init() {
	// The web client reads amounts as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Cents rounds an amount half away from zero to two decimal places.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
