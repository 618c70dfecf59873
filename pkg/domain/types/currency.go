package types

import "strings"

// Currency is one of the supported catalog price currencies
type Currency string

const (
	CurrencyTRY Currency = "TRY"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyUSD Currency = "USD"
)

// DefaultCurrency is applied when a price carries no recognizable currency
const DefaultCurrency = CurrencyTRY

// IsValid checks if the currency is supported
func (c Currency) IsValid() bool {
	switch c {
	case CurrencyTRY, CurrencyEUR, CurrencyGBP, CurrencyUSD:
		return true
	default:
		return false
	}
}

func (c Currency) String() string {
	return string(c)
}

// currencyAliases maps symbols and words to currencies. Checked in order so that
// multi-character aliases win over single symbols.
var currencyAliases = []struct {
	alias    string
	currency Currency
}{
	{"try", CurrencyTRY},
	{"tl", CurrencyTRY},
	{"lira", CurrencyTRY},
	{"₺", CurrencyTRY},
	{"eur", CurrencyEUR},
	{"euro", CurrencyEUR},
	{"€", CurrencyEUR},
	{"gbp", CurrencyGBP},
	{"pound", CurrencyGBP},
	{"sterling", CurrencyGBP},
	{"£", CurrencyGBP},
	{"usd", CurrencyUSD},
	{"dollar", CurrencyUSD},
	{"us$", CurrencyUSD},
	{"$", CurrencyUSD},
}

// ParseCurrency maps a currency code, symbol or word to a Currency. Unknown or
// empty input falls back to DefaultCurrency.
func ParseCurrency(s string) Currency {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return DefaultCurrency
	}
	if c := Currency(strings.ToUpper(v)); c.IsValid() {
		return c
	}
	for _, a := range currencyAliases {
		if strings.Contains(v, a.alias) {
			return a.currency
		}
	}
	return DefaultCurrency
}
