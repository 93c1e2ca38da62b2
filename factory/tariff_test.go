package factory

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func TestParseTariff(t *testing.T) {
	f := NewTariffFactory()

	inputs, err := f.ParseTariff(`{
		"property_id": "prop-1",
		"prices": [
			{"type": "electricity", "unit_price": "3500", "effective_date": "2025-01-01"},
			{"type": "water", "unit_price": 15500, "effective_date": "2025-01-01"},
			{"type": "service", "service_id": "svc-wifi", "unit_price": "100000.50", "effective_date": "2025-02-01"}
		]
	}`)

	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, billing.UtilityScope("prop-1", billing.CostElectricity), inputs[0].Scope)
	assert.True(t, decimal.NewFromInt(15500).Equal(inputs[1].UnitPrice))
	assert.Equal(t, billing.ServiceScope("svc-wifi"), inputs[2].Scope)
	assert.Equal(t, "100000.5", inputs[2].UnitPrice.String())
	assert.Equal(t, billing.MustDate("2025-02-01"), inputs[2].EffectiveDate)
}

func TestParseTariff_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{"prices": [`},
		{"no prices", `{"property_id": "p1", "prices": []}`},
		{"unknown type", `{"property_id": "p1", "prices": [{"type": "gas", "unit_price": "1", "effective_date": "2025-01-01"}]}`},
		{"bad date", `{"property_id": "p1", "prices": [{"type": "water", "unit_price": "1", "effective_date": "01/01/2025"}]}`},
		{"negative price", `{"property_id": "p1", "prices": [{"type": "water", "unit_price": "-1", "effective_date": "2025-01-01"}]}`},
		{"utility without property", `{"prices": [{"type": "water", "unit_price": "1", "effective_date": "2025-01-01"}]}`},
		{"utility with service id", `{"property_id": "p1", "prices": [{"type": "water", "service_id": "s1", "unit_price": "1", "effective_date": "2025-01-01"}]}`},
		{"service without id", `{"property_id": "p1", "prices": [{"type": "service", "unit_price": "1", "effective_date": "2025-01-01"}]}`},
		{"duplicate scope and date", `{"property_id": "p1", "prices": [
			{"type": "water", "unit_price": "1", "effective_date": "2025-01-01"},
			{"type": "water", "unit_price": "2", "effective_date": "2025-01-01"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTariffFactory().ParseTariff(tc.json)
			require.Error(t, err)
			assert.True(t, errors.Is(err, billing.ErrValidation), "got %v", err)
			assert.Equal(t, billing.CodeValidation, billing.Code(err))
		})
	}
}

func TestToJSON(t *testing.T) {
	f := NewTariffFactory()
	points := []billing.PricePoint{
		{ID: 1, Scope: billing.UtilityScope("p1", billing.CostWater), UnitPrice: decimal.NewFromInt(15500), EffectiveDate: billing.MustDate("2025-01-01")},
		{ID: 2, Scope: billing.ServiceScope("s1"), UnitPrice: decimal.NewFromInt(20000), EffectiveDate: billing.MustDate("2025-03-01")},
	}

	tj := f.ToJSON("p1", points)

	require.Len(t, tj.Prices, 2)
	assert.Equal(t, "water", tj.Prices[0].Type)
	assert.Empty(t, tj.Prices[0].ServiceID)
	assert.Equal(t, "s1", tj.Prices[1].ServiceID)

	back, err := f.FromJSON(tj)
	require.NoError(t, err)
	assert.Equal(t, points[1].Scope, back[1].Scope)
}

func TestUtilityTariffJSON(t *testing.T) {
	inputs, err := NewTariffFactory().ParseTariff(UtilityTariffJSON("p1", "3500", "15500", "2025-01-01"))

	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, billing.CostWater, inputs[1].Scope.CostType)
}
