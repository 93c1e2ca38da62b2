package billing

import "github.com/shopspring/decimal"

var half = decimal.New(5, -1)

// Rounding rounds amounts half-up to Places decimal places. Places 0 suits
// currencies without minor units.
type Rounding struct {
	Places int32
}

func (r Rounding) Round(d decimal.Decimal) decimal.Decimal {
	return d.Shift(r.Places).Add(half).Floor().Shift(-r.Places)
}

// LineAmount is quantity times unit price, rounded once.
func (r Rounding) LineAmount(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return r.Round(quantity.Mul(unitPrice))
}

// IsRounded reports whether d already has no more than Places decimals.
func (r Rounding) IsRounded(d decimal.Decimal) bool {
	return r.Round(d).Equal(d)
}
