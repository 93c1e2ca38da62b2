package sqlite

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type engine struct {
	catalog *billing.Catalog
	builder *billing.Builder
	ledger  *billing.PaymentLedger
	lease   billing.Lease
	prop    billing.Property
	room    billing.Room
}

// newEngine wires the billing components to s with a fixed clock on
// 2025-03-20 and an active monthly lease starting 2025-01-01.
func newEngine(t *testing.T, s *Store) *engine {
	t.Helper()
	ctx := context.Background()
	clock := billing.FixedClock(time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC))
	var n atomic.Int64
	ids := func() string {
		return fmt.Sprintf("id-%04d", n.Add(1))
	}

	e := &engine{
		catalog: billing.NewCatalog(s),
		builder: billing.NewBuilder(s, billing.DefaultBuilderConfig()),
		ledger:  billing.NewPaymentLedger(s, billing.DefaultBuilderConfig().Rounding),
	}
	e.catalog.Clock, e.catalog.NewID = clock, ids
	e.builder.Clock, e.builder.NewID = clock, ids
	e.ledger.Clock, e.ledger.NewID = clock, ids

	var err error
	e.prop, err = e.catalog.CreateProperty(ctx, "landlord-1", "Riverside House")
	require.NoError(t, err)
	e.room, err = e.catalog.CreateRoom(ctx, e.prop.ID, "Room 101")
	require.NoError(t, err)
	lease, err := e.catalog.CreateLease(ctx, billing.Lease{
		RoomID:              e.room.ID,
		TenantName:          "Tenant A",
		RentAmount:          decimal.NewFromInt(2500000),
		BillingPeriodMonths: 1,
		PaymentTiming:       billing.PayAtPeriodStart,
		DueOffsetDays:       9,
		StartDate:           billing.MustDate("2025-01-01"),
	})
	require.NoError(t, err)
	e.lease, err = e.catalog.ChangeLeaseStatus(ctx, lease.ID, billing.LeaseActive, billing.MustDate("2025-01-01"))
	require.NoError(t, err)
	return e
}

func (e *engine) price(t *testing.T, ct billing.CostType, unit int64, effective string) billing.PricePoint {
	t.Helper()
	p, err := e.catalog.AddPricePoint(context.Background(), billing.PriceInput{
		Scope:         billing.UtilityScope(e.prop.ID, ct),
		UnitPrice:     decimal.NewFromInt(unit),
		EffectiveDate: billing.MustDate(effective),
	})
	require.NoError(t, err)
	return p
}

func (e *engine) reading(t *testing.T, ct billing.CostType, prev, cur int64) billing.ConsumptionReading {
	t.Helper()
	r, err := e.catalog.RecordReading(context.Background(), billing.ReadingInput{
		RoomID:        e.room.ID,
		CostType:      ct,
		Period:        march,
		PreviousIndex: decimal.NewFromInt(prev),
		CurrentIndex:  decimal.NewFromInt(cur),
		RecordedAt:    time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return r
}

var march = billing.Period{Start: billing.MustDate("2025-03-01"), End: billing.MustDate("2025-04-01")}

func TestStore_BuildInvoiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newEngine(t, s)

	elec := e.price(t, billing.CostElectricity, 3500, "2025-01-01")
	e.price(t, billing.CostWater, 15500, "2025-01-01")
	e.reading(t, billing.CostElectricity, 1250, 1420)
	e.reading(t, billing.CostWater, 40, 50)

	inv, err := e.builder.Build(ctx, e.lease.ID, march)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3250000).Equal(inv.TotalDue), "total %s", inv.TotalDue)

	// GIVEN: the invoice is read back from the database
	stored, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, stored.LineItems, 3)
	assert.Equal(t, billing.LineRent, stored.LineItems[0].Kind)
	assert.Equal(t, billing.LineElectricity, stored.LineItems[1].Kind)
	require.NotNil(t, stored.LineItems[1].PricePointID)
	assert.Equal(t, elec.ID, *stored.LineItems[1].PricePointID)
	assert.Equal(t, billing.MustDate("2025-03-15"), *stored.LineItems[1].PriceAsOf)
	assert.True(t, decimal.NewFromInt(595000).Equal(stored.LineItems[1].Amount))
	assert.Equal(t, billing.MustDate("2025-03-10"), stored.DueDate)

	// THEN: a second invoice for the same period is rejected by the index
	_, err = e.builder.Build(ctx, e.lease.ID, march)
	assert.Equal(t, billing.CodeInvoiceExists, billing.Code(err))

	// THEN: the billed price point cannot be deleted
	err = e.catalog.DeletePricePoint(ctx, elec.ID)
	assert.Equal(t, billing.CodePriceInUse, billing.Code(err))

	// THEN: a price that would change the billed reading is retroactive
	_, err = e.catalog.AddPricePoint(ctx, billing.PriceInput{
		Scope:         elec.Scope,
		UnitPrice:     decimal.NewFromInt(4000),
		EffectiveDate: billing.MustDate("2025-03-10"),
	})
	assert.Equal(t, billing.CodeRetroactivePrice, billing.Code(err))
	e.price(t, billing.CostElectricity, 4000, "2025-03-20")

	// WHEN: a partial payment is recorded
	_, status, err := e.ledger.RecordPayment(ctx, billing.PaymentInput{
		InvoiceID: inv.ID, Amount: decimal.NewFromInt(1000000), Method: billing.MethodBankTransfer})
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePartiallyPaid, status)

	st, err := e.ledger.Statement(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2250000).Equal(st.BalanceDue))

	_, err = e.ledger.VoidInvoice(ctx, inv.ID, "mistake")
	assert.Equal(t, billing.CodeInvoiceHasPayments, billing.Code(err))
}

func TestStore_ConcurrentBuildsCreateOneInvoice(t *testing.T) {
	// GIVEN: one lease with readings ready for March
	ctx := context.Background()
	s := newTestStore(t)
	e := newEngine(t, s)
	e.price(t, billing.CostElectricity, 3500, "2025-01-01")
	e.reading(t, billing.CostElectricity, 1250, 1420)

	// WHEN: several builds for the same period race
	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		built []billing.Invoice
		codes []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := e.builder.Build(ctx, e.lease.ID, march)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				codes = append(codes, billing.Code(err))
				return
			}
			built = append(built, inv)
		}()
	}
	wg.Wait()

	// THEN: exactly one wins and the rest see a conflict
	require.Len(t, built, 1)
	require.Len(t, codes, workers-1)
	for _, code := range codes {
		assert.Contains(t, []string{billing.CodeInvoiceExists, billing.CodeConcurrentModification}, code)
	}
	invoices, err := s.ListInvoices(ctx, e.lease.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, built[0].ID, invoices[0].ID)
	assert.True(t, decimal.NewFromInt(3095000).Equal(invoices[0].TotalDue), "total %s", invoices[0].TotalDue)
}

func TestStore_VoidReleasesClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newEngine(t, s)
	e.price(t, billing.CostElectricity, 3500, "2025-01-01")
	rd := e.reading(t, billing.CostElectricity, 100, 110)

	inv, err := e.builder.Build(ctx, e.lease.ID, march)
	require.NoError(t, err)
	billed, err := s.GetReading(ctx, rd.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingBilled, billed.Status)
	assert.Equal(t, inv.ID, billed.InvoiceID)

	voided, err := e.ledger.VoidInvoice(ctx, inv.ID, "rebill")
	require.NoError(t, err)
	require.NotNil(t, voided.VoidedAt)

	released, err := s.GetReading(ctx, rd.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingRecorded, released.Status)
	assert.Empty(t, released.InvoiceID)

	// the live-period index ignores void invoices
	again, err := e.builder.Build(ctx, e.lease.ID, march)
	require.NoError(t, err)
	assert.NotEqual(t, inv.ID, again.ID)

	invoices, err := s.ListInvoices(ctx, e.lease.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, billing.InvoiceVoid, invoices[0].Status)
	assert.Equal(t, "rebill", invoices[0].VoidReason)
	assert.Len(t, invoices[1].LineItems, 2)
}

func TestStore_LatestPricePoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	scope := billing.ServiceScope("s1")

	for _, d := range []string{"2025-03-01", "2025-01-01", "2025-03-01", "2025-02-01"} {
		_, err := s.InsertPricePoint(ctx, billing.PricePoint{
			Scope: scope, UnitPrice: decimal.NewFromInt(1), EffectiveDate: billing.MustDate(d)})
		require.NoError(t, err)
	}

	tests := []struct {
		asOf   string
		wantID billing.PricePointID
		found  bool
	}{
		{"2024-12-31", 0, false},
		{"2025-01-01", 2, true},
		{"2025-02-15", 4, true},
		{"2025-03-01", 3, true},
		{"2026-01-01", 3, true},
	}
	for _, tc := range tests {
		t.Run(tc.asOf, func(t *testing.T) {
			p, ok, err := s.LatestPricePoint(ctx, scope, billing.MustDate(tc.asOf))
			require.NoError(t, err)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.wantID, p.ID)
		})
	}

	points, err := s.ListPricePoints(ctx, scope)
	require.NoError(t, err)
	var ids []billing.PricePointID
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []billing.PricePointID{2, 4, 1, 3}, ids)
}

func TestStore_ClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveProperty(ctx, billing.Property{ID: "p1", LandlordID: "ll"}))
	require.NoError(t, s.SaveRoom(ctx, billing.Room{ID: "r1", PropertyID: "p1"}))
	require.NoError(t, s.SaveLease(ctx, billing.Lease{ID: "l1", RoomID: "r1", PropertyID: "p1",
		StartDate: billing.MustDate("2025-01-01"), Status: billing.LeaseActive}))
	require.NoError(t, s.SaveService(ctx, billing.ServiceDefinition{ID: "s1", LandlordID: "ll", Kind: billing.ServicePerUsage}))
	require.NoError(t, s.InsertReading(ctx, billing.ConsumptionReading{
		ID: "rd1", RoomID: "r1", CostType: billing.CostWater, Period: march, Status: billing.ReadingRecorded}))
	require.NoError(t, s.InsertUsage(ctx, billing.ServiceUsageRecord{
		ID: "u1", ServiceID: "s1", RoomID: "r1", Date: billing.MustDate("2025-03-02"), Quantity: decimal.NewFromInt(2)}))
	for _, id := range []billing.InvoiceID{"inv1", "inv2"} {
		require.NoError(t, s.InsertInvoice(ctx, billing.Invoice{ID: id, LeaseID: "l1", Period: march,
			Status: billing.InvoiceUnpaid}))
		// second insert only succeeds because the first is voided below
		require.NoError(t, s.UpdateInvoiceStatus(ctx, id, billing.InvoiceVoid, &time.Time{}, ""))
	}

	require.NoError(t, s.ClaimReading(ctx, "rd1", "inv1"))
	assert.ErrorIs(t, s.ClaimReading(ctx, "rd1", "inv2"), billing.ErrConcurrentModification)
	assert.True(t, billing.IsNotFound(s.ClaimReading(ctx, "missing", "inv2")))

	require.NoError(t, s.ClaimUsage(ctx, "u1", "inv1", decimal.NewFromInt(5), decimal.NewFromInt(10)))
	assert.ErrorIs(t, s.ClaimUsage(ctx, "u1", "inv2", decimal.Zero, decimal.Zero), billing.ErrConcurrentModification)

	u, err := s.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(u.Amount))

	unbilled, err := s.ListUnbilledUsage(ctx, "r1", march)
	require.NoError(t, err)
	assert.Empty(t, unbilled)

	require.NoError(t, s.ReleaseReadings(ctx, "inv1"))
	require.NoError(t, s.ReleaseUsage(ctx, "inv1"))

	// released usage carries no price from the voided invoice
	u, err = s.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.InvoiceID)
	assert.True(t, u.ResolvedUnitPrice.IsZero())
	assert.True(t, u.Amount.IsZero())

	// released records can be claimed again
	require.NoError(t, s.ClaimReading(ctx, "rd1", "inv2"))
	unbilled, err = s.ListUnbilledUsage(ctx, "r1", march)
	require.NoError(t, err)
	assert.Len(t, unbilled, 1)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	scope := billing.ServiceScope("s1")

	err := s.WithTx(ctx, func(tx billing.Store) error {
		if _, err := tx.InsertPricePoint(ctx, billing.PricePoint{Scope: scope, EffectiveDate: billing.MustDate("2025-01-01")}); err != nil {
			return err
		}
		return billing.ErrConflict
	})
	assert.ErrorIs(t, err, billing.ErrConflict)

	points, err := s.ListPricePoints(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestStore_ServiceReferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newEngine(t, s)

	svc, err := e.catalog.CreateService(ctx, billing.ServiceInput{
		LandlordID: e.prop.LandlordID, PropertyID: e.prop.ID, Name: "Laundry", Kind: billing.ServicePerUsage, Unit: "load"})
	require.NoError(t, err)
	_, err = e.catalog.RecordUsage(ctx, billing.UsageInput{
		ServiceID: svc.ID, RoomID: e.room.ID, Date: billing.MustDate("2025-03-02"), Quantity: decimal.NewFromInt(3)})
	require.NoError(t, err)

	refs, err := s.CountServiceReferences(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ServiceReferences{UsageRecords: 1}, refs)

	err = e.catalog.DeleteService(ctx, svc.ID)
	assert.Equal(t, billing.CodeServiceInUse, billing.Code(err))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newEngine(t, s)

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetLease(ctx, e.lease.ID)
	assert.True(t, billing.IsNotFound(err))
}
