package models

import "strings"

// Currency describes display and precision metadata for a currency code.
// Values are immutable; compare with Equals (case-insensitive on code).
type Currency struct {
	Code          string `json:"code"`
	DecimalPlaces int    `json:"decimal_places"`
	Symbol        string `json:"symbol"`
}

// defaultDecimalPlaces is used for codes missing from the catalog. Unknown
// codes are accepted, never rejected, so ingestion stays liberal about
// whatever a statement feed throws at it.
const defaultDecimalPlaces = 2

var currencyCatalog = map[string]Currency{
	"EUR": {Code: "EUR", DecimalPlaces: 2, Symbol: "€"},
	"USD": {Code: "USD", DecimalPlaces: 2, Symbol: "$"},
	"GBP": {Code: "GBP", DecimalPlaces: 2, Symbol: "£"},
	"CHF": {Code: "CHF", DecimalPlaces: 2, Symbol: "CHF"},
	"JPY": {Code: "JPY", DecimalPlaces: 0, Symbol: "¥"},
	"SEK": {Code: "SEK", DecimalPlaces: 2, Symbol: "kr"},
	"NOK": {Code: "NOK", DecimalPlaces: 2, Symbol: "kr"},
	"DKK": {Code: "DKK", DecimalPlaces: 2, Symbol: "kr"},
	"CAD": {Code: "CAD", DecimalPlaces: 2, Symbol: "CA$"},
	"AUD": {Code: "AUD", DecimalPlaces: 2, Symbol: "A$"},
	"BRL": {Code: "BRL", DecimalPlaces: 2, Symbol: "R$"},
	"BHD": {Code: "BHD", DecimalPlaces: 3, Symbol: "BD"},
	"KWD": {Code: "KWD", DecimalPlaces: 3, Symbol: "KD"},
	"TND": {Code: "TND", DecimalPlaces: 3, Symbol: "DT"},
}

// LookupCurrency returns catalog metadata for the given code. Unknown codes
// degrade to 2 decimal places with the upper-cased code as symbol.
func LookupCurrency(code string) Currency {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if c, ok := currencyCatalog[normalized]; ok {
		return c
	}
	return Currency{Code: normalized, DecimalPlaces: defaultDecimalPlaces, Symbol: normalized}
}

// Equals compares currencies by code, case-insensitively.
func (c Currency) Equals(other Currency) bool {
	return strings.EqualFold(c.Code, other.Code)
}
