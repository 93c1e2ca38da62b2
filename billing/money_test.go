package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/lease-billing/billing"
)

func TestRounding_HalfUp(t *testing.T) {
	tests := []struct {
		places int32
		in     string
		want   string
	}{
		{0, "4162.5", "4163"},
		{0, "4162.49", "4162"},
		{0, "595000", "595000"},
		{2, "1.005", "1.01"},
		{2, "1.004", "1"},
		{2, "10.125", "10.13"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assertAmount(t, tc.want, billing.Rounding{Places: tc.places}.Round(dec(tc.in)))
		})
	}
}

func TestRounding_LineAmount(t *testing.T) {
	r := billing.Rounding{}
	assertAmount(t, "595000", r.LineAmount(dec("170"), dec("3500")))
	assert.True(t, r.IsRounded(dec("100")))
	assert.False(t, r.IsRounded(dec("100.5")))
}

func TestPeriod(t *testing.T) {
	p := march()

	assert.True(t, p.Contains(day("2025-03-01")))
	assert.True(t, p.Contains(day("2025-03-31")))
	assert.False(t, p.Contains(day("2025-04-01")))
	assert.Equal(t, day("2025-03-31"), p.LastDay())

	assert.True(t, p.Covers(period("2025-03-01", "2025-03-16")))
	assert.False(t, p.Covers(period("2025-02-15", "2025-03-15")))

	_, err := billing.NewPeriod(day("2025-03-01"), day("2025-02-01"))
	assert.Error(t, err)
	assert.Equal(t, "[2025-03-01, 2025-04-01)", p.String())
}

func TestDate_JSON(t *testing.T) {
	b, err := day("2025-03-15").MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"2025-03-15"`, string(b))

	var d billing.Date
	assert.NoError(t, d.UnmarshalJSON([]byte(`"2025-03-15"`)))
	assert.Equal(t, day("2025-03-15"), d)
	assert.Error(t, d.UnmarshalJSON([]byte(`"15/03/2025"`)))
}
