/*
Package factory converts JSON tariff sheets into price inputs.

PURPOSE:
  Landlords publish their prices as a sheet: one property, many prices,
  each with the date it takes effect. The factory turns that sheet into
  billing.PriceInput values which the catalog inserts in one transaction,
  so a half-imported sheet never becomes visible.

JSON SCHEMA:
  {
    "property_id": "prop-1",
    "prices": [
      {"type": "electricity", "unit_price": "3500",  "effective_date": "2025-01-01"},
      {"type": "water",       "unit_price": "15500", "effective_date": "2025-01-01"},
      {"type": "service", "service_id": "svc-wifi", "unit_price": "100000", "effective_date": "2025-01-01"}
    ]
  }

  unit_price accepts a JSON string or number; strings keep exact decimals.

KEY FEATURES:
  - Validates every entry before anything is written
  - Rejects two prices for the same scope and date within one sheet
  - ToJSON exports a price history back into the same shape

USAGE:
  factory := NewTariffFactory()
  inputs, err := factory.ParseTariff(jsonString)
  points, err := catalog.AddPricePoints(ctx, inputs)

SEE ALSO:
  - billing/mutations.go: AddPricePoints
  - api/scenarios.go: demo tariffs
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TariffJSON is the JSON representation of a tariff sheet.
type TariffJSON struct {
	PropertyID string      `json:"property_id"`
	Prices     []PriceJSON `json:"prices"`
}

// PriceJSON is one price in a sheet.
type PriceJSON struct {
	Type          string          `json:"type"` // electricity, water, service
	ServiceID     string          `json:"service_id,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveDate string          `json:"effective_date"`
}

// =============================================================================
// TARIFF FACTORY
// =============================================================================

// TariffFactory converts JSON tariff sheets to price inputs.
type TariffFactory struct{}

func NewTariffFactory() *TariffFactory {
	return &TariffFactory{}
}

// ParseTariff parses a JSON string into price inputs.
func (f *TariffFactory) ParseTariff(jsonStr string) ([]billing.PriceInput, error) {
	var tj TariffJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, &billing.ValidationError{Field: "tariff", Message: "invalid JSON: " + err.Error()}
	}
	return f.FromJSON(tj)
}

// FromJSON validates the sheet and converts it to price inputs in sheet order.
func (f *TariffFactory) FromJSON(tj TariffJSON) ([]billing.PriceInput, error) {
	if len(tj.Prices) == 0 {
		return nil, &billing.ValidationError{Field: "prices", Message: "at least one price is required"}
	}

	type key struct {
		scope string
		date  billing.Date
	}
	seen := make(map[key]bool, len(tj.Prices))
	inputs := make([]billing.PriceInput, 0, len(tj.Prices))

	for i, pj := range tj.Prices {
		in, err := parsePrice(billing.PropertyID(tj.PropertyID), pj)
		if err != nil {
			return nil, fmt.Errorf("prices[%d]: %w", i, err)
		}
		k := key{in.Scope.Key(), in.EffectiveDate}
		if seen[k] {
			return nil, fmt.Errorf("prices[%d]: %w", i, &billing.ValidationError{
				Field:   "effective_date",
				Message: fmt.Sprintf("%s already has a price on %s in this sheet", in.Scope, in.EffectiveDate),
			})
		}
		seen[k] = true
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// ToJSON exports price points of one property as a sheet.
func (f *TariffFactory) ToJSON(property billing.PropertyID, points []billing.PricePoint) TariffJSON {
	tj := TariffJSON{PropertyID: string(property)}
	for _, p := range points {
		tj.Prices = append(tj.Prices, PriceJSON{
			Type:          string(p.Scope.CostType),
			ServiceID:     string(p.Scope.ServiceID),
			UnitPrice:     p.UnitPrice,
			EffectiveDate: p.EffectiveDate.String(),
		})
	}
	return tj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePrice(property billing.PropertyID, pj PriceJSON) (billing.PriceInput, error) {
	ct, err := billing.ParseCostType(pj.Type)
	if err != nil {
		return billing.PriceInput{}, err
	}
	effective, err := billing.ParseDate(pj.EffectiveDate)
	if err != nil {
		return billing.PriceInput{}, &billing.ValidationError{Field: "effective_date", Message: "expected YYYY-MM-DD"}
	}

	var scope billing.PriceScope
	if ct == billing.CostService {
		scope = billing.ServiceScope(billing.ServiceID(pj.ServiceID))
	} else {
		scope = billing.UtilityScope(property, ct)
		scope.ServiceID = billing.ServiceID(pj.ServiceID) // rejected by Validate when set
	}

	in := billing.PriceInput{Scope: scope, UnitPrice: pj.UnitPrice, EffectiveDate: effective}
	if err := in.Validate(); err != nil {
		return billing.PriceInput{}, err
	}
	return in, nil
}

// =============================================================================
// PRESET TARIFFS
// =============================================================================

// UtilityTariffJSON returns a sheet with electricity and water prices
// effective on the same date.
func UtilityTariffJSON(property billing.PropertyID, electricity, water, effective string) string {
	return fmt.Sprintf(`{
  "property_id": %q,
  "prices": [
    {"type": "electricity", "unit_price": %q, "effective_date": %q},
    {"type": "water", "unit_price": %q, "effective_date": %q}
  ]
}`, property, electricity, effective, water, effective)
}
