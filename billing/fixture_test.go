package billing_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/billing/store"
)

// fixture is one landlord with one property, one room and an active
// monthly lease: rent 2,500,000 due 9 days after the period starts.
type fixture struct {
	ctx      context.Context
	store    *store.Memory
	catalog  *billing.Catalog
	builder  *billing.Builder
	ledger   *billing.PaymentLedger
	property billing.Property
	room     billing.Room
	lease    billing.Lease
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, billing.DefaultBuilderConfig())
}

func newFixtureWithConfig(t *testing.T, cfg billing.BuilderConfig) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		now:   time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	ids := idSequence()

	f.catalog = billing.NewCatalog(f.store)
	f.catalog.Clock, f.catalog.NewID = clock, ids
	f.builder = billing.NewBuilder(f.store, cfg)
	f.builder.Clock, f.builder.NewID = clock, ids
	f.ledger = billing.NewPaymentLedger(f.store, cfg.Rounding)
	f.ledger.Clock, f.ledger.NewID = clock, ids

	var err error
	f.property, err = f.catalog.CreateProperty(f.ctx, "landlord-1", "Riverside House")
	require.NoError(t, err)
	f.room, err = f.catalog.CreateRoom(f.ctx, f.property.ID, "Room 101")
	require.NoError(t, err)
	lease, err := f.catalog.CreateLease(f.ctx, billing.Lease{
		RoomID:              f.room.ID,
		TenantName:          "Tenant A",
		RentAmount:          dec("2500000"),
		BillingPeriodMonths: 1,
		PaymentTiming:       billing.PayAtPeriodStart,
		DueOffsetDays:       9,
		StartDate:           day("2025-01-01"),
	})
	require.NoError(t, err)
	f.lease, err = f.catalog.ChangeLeaseStatus(f.ctx, lease.ID, billing.LeaseActive, day("2025-01-01"))
	require.NoError(t, err)
	return f
}

func idSequence() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%04d", n.Add(1))
	}
}

func (f *fixture) addUtilityPrice(t *testing.T, ct billing.CostType, price, effective string) billing.PricePoint {
	t.Helper()
	p, err := f.catalog.AddPricePoint(f.ctx, billing.PriceInput{
		Scope:         billing.UtilityScope(f.property.ID, ct),
		UnitPrice:     dec(price),
		EffectiveDate: day(effective),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addServicePrice(t *testing.T, id billing.ServiceID, price, effective string) billing.PricePoint {
	t.Helper()
	p, err := f.catalog.AddPricePoint(f.ctx, billing.PriceInput{
		Scope:         billing.ServiceScope(id),
		UnitPrice:     dec(price),
		EffectiveDate: day(effective),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) recordReading(t *testing.T, ct billing.CostType, p billing.Period, prev, cur, recordedOn string) billing.ConsumptionReading {
	t.Helper()
	r, err := f.catalog.RecordReading(f.ctx, billing.ReadingInput{
		RoomID:        f.room.ID,
		CostType:      ct,
		Period:        p,
		PreviousIndex: dec(prev),
		CurrentIndex:  dec(cur),
		RecordedAt:    day(recordedOn).Time.Add(10 * time.Hour),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) createService(t *testing.T, name string, kind billing.ServiceKind, unit string) billing.ServiceDefinition {
	t.Helper()
	s, err := f.catalog.CreateService(f.ctx, billing.ServiceInput{
		LandlordID: f.property.LandlordID,
		PropertyID: f.property.ID,
		Name:       name,
		Kind:       kind,
		Unit:       unit,
	})
	require.NoError(t, err)
	return s
}

// paymentScenario builds the March invoice totalling 3,250,000:
// rent 2,500,000 + 170 kWh x 3,500 + 10 m3 x 15,500.
func (f *fixture) paymentScenario(t *testing.T) billing.Invoice {
	t.Helper()
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	f.addUtilityPrice(t, billing.CostWater, "15500", "2025-01-01")
	f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")
	f.recordReading(t, billing.CostWater, march(), "40", "50", "2025-03-15")
	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
	assertAmount(t, "3250000", inv.TotalDue)
	return inv
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) billing.Date { return billing.MustDate(s) }

func period(start, end string) billing.Period {
	return billing.Period{Start: day(start), End: day(end)}
}

func march() billing.Period { return period("2025-03-01", "2025-04-01") }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}
