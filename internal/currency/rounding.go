// Package currency provides the rounding rules used when comparing and
// settling monetary amounts. Domain amounts travel as float64 like the rest
// of the system; every tolerance decision must route through a Rounding so
// that "fully consumed" means the same thing everywhere.
package currency

import "github.com/shopspring/decimal"

// Rounding describes the precision rule of a currency.
type Rounding struct {
	Places int32
}

// Round returns v rounded half away from zero at the currency precision.
func (r Rounding) Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(r.Places).InexactFloat64()
}

// IsZero reports whether v is zero within half a rounding step.
func (r Rounding) IsZero(v float64) bool {
	half := decimal.New(5, -(r.Places + 1))
	return decimal.NewFromFloat(v).Abs().LessThan(half)
}

// Cmp compares a and b after rounding both. Returns -1, 0 or 1.
func (r Rounding) Cmp(a, b float64) int {
	return decimal.NewFromFloat(a).Round(r.Places).Cmp(decimal.NewFromFloat(b).Round(r.Places))
}

// zeroDecimalCurrencies lists ISO codes without fractional units.
var zeroDecimalCurrencies = map[string]struct{}{
	"IDR": {},
	"JPY": {},
	"KRW": {},
	"VND": {},
}

// ByCode returns the rounding rule for an ISO currency code.
// Unknown codes default to two decimal places.
func ByCode(code string) Rounding {
	if _, ok := zeroDecimalCurrencies[code]; ok {
		return Rounding{Places: 0}
	}
	return Rounding{Places: 2}
}
