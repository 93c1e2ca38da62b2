package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func seed(t *testing.T, m *Memory) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.SaveProperty(ctx, billing.Property{ID: "p1", LandlordID: "ll"}))
	require.NoError(t, m.SaveRoom(ctx, billing.Room{ID: "r1", PropertyID: "p1"}))
	require.NoError(t, m.SaveLease(ctx, billing.Lease{ID: "l1", RoomID: "r1", PropertyID: "p1", Status: billing.LeaseActive}))
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	scope := billing.UtilityScope("p1", billing.CostElectricity)
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s billing.Store) error {
		_, err := s.InsertPricePoint(ctx, billing.PricePoint{Scope: scope, UnitPrice: decimal.NewFromInt(1), EffectiveDate: billing.MustDate("2025-01-01")})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	points, err := m.ListPricePoints(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, points)

	// ids are not consumed by a rolled back insert
	p, err := m.InsertPricePoint(ctx, billing.PricePoint{Scope: scope, EffectiveDate: billing.MustDate("2025-01-01")})
	require.NoError(t, err)
	assert.Equal(t, billing.PricePointID(1), p.ID)
}

func TestMemory_WithTxRollsBackOnPanic(t *testing.T) {
	// GIVEN: A transaction that inserts a room and then panics
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)

	// WHEN: The panic escapes WithTx
	assert.Panics(t, func() {
		_ = m.WithTx(ctx, func(s billing.Store) error {
			require.NoError(t, s.SaveRoom(ctx, billing.Room{ID: "r2", PropertyID: "p1"}))
			panic("boom")
		})
	})

	// THEN: The insert is gone and the store is still usable
	_, err := m.GetRoom(ctx, "r2")
	assert.True(t, billing.IsNotFound(err))
	require.NoError(t, m.WithTx(ctx, func(s billing.Store) error {
		return s.SaveRoom(ctx, billing.Room{ID: "r3", PropertyID: "p1"})
	}))
	_, err = m.GetRoom(ctx, "r3")
	assert.NoError(t, err)
}

func TestMemory_PriceOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	scope := billing.ServiceScope("s1")
	for _, d := range []string{"2025-03-01", "2025-01-01", "2025-03-01", "2025-02-01"} {
		_, err := m.InsertPricePoint(ctx, billing.PricePoint{Scope: scope, EffectiveDate: billing.MustDate(d)})
		require.NoError(t, err)
	}

	points, err := m.ListPricePoints(ctx, scope)
	require.NoError(t, err)
	var ids []billing.PricePointID
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []billing.PricePointID{2, 4, 1, 3}, ids)

	latest, ok, err := m.LatestPricePoint(ctx, scope, billing.MustDate("2025-03-05"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, billing.PricePointID(3), latest.ID)

	require.NoError(t, m.DeletePricePoint(ctx, 3))
	latest, _, err = m.LatestPricePoint(ctx, scope, billing.MustDate("2025-03-05"))
	require.NoError(t, err)
	assert.Equal(t, billing.PricePointID(1), latest.ID)
}

func TestMemory_ClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	march := billing.Period{Start: billing.MustDate("2025-03-01"), End: billing.MustDate("2025-04-01")}
	require.NoError(t, m.InsertReading(ctx, billing.ConsumptionReading{ID: "rd1", RoomID: "r1", Period: march, Status: billing.ReadingRecorded}))
	require.NoError(t, m.InsertUsage(ctx, billing.ServiceUsageRecord{ID: "u1", RoomID: "r1", Date: billing.MustDate("2025-03-02")}))

	require.NoError(t, m.ClaimReading(ctx, "rd1", "inv1"))
	assert.ErrorIs(t, m.ClaimReading(ctx, "rd1", "inv2"), billing.ErrConcurrentModification)

	require.NoError(t, m.ClaimUsage(ctx, "u1", "inv1", decimal.NewFromInt(5), decimal.NewFromInt(5)))
	assert.ErrorIs(t, m.ClaimUsage(ctx, "u1", "inv2", decimal.Zero, decimal.Zero), billing.ErrConcurrentModification)

	unbilled, err := m.ListUnbilledUsage(ctx, "r1", march)
	require.NoError(t, err)
	assert.Empty(t, unbilled)

	require.NoError(t, m.ReleaseReadings(ctx, "inv1"))
	require.NoError(t, m.ReleaseUsage(ctx, "inv1"))
	r, err := m.GetReading(ctx, "rd1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingRecorded, r.Status)
	u, err := m.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.InvoiceID)
	assert.True(t, u.ResolvedUnitPrice.IsZero())
	assert.True(t, u.Amount.IsZero())
	unbilled, err = m.ListUnbilledUsage(ctx, "r1", march)
	require.NoError(t, err)
	assert.Len(t, unbilled, 1)
}

func TestMemory_OneLiveInvoicePerPeriod(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	march := billing.Period{Start: billing.MustDate("2025-03-01"), End: billing.MustDate("2025-04-01")}

	require.NoError(t, m.InsertInvoice(ctx, billing.Invoice{ID: "a", LeaseID: "l1", Period: march}))
	err := m.InsertInvoice(ctx, billing.Invoice{ID: "b", LeaseID: "l1", Period: march})
	assert.Equal(t, billing.CodeInvoiceExists, billing.Code(err))

	now := time.Now()
	require.NoError(t, m.UpdateInvoiceStatus(ctx, "a", billing.InvoiceVoid, &now, "redo"))
	require.NoError(t, m.InsertInvoice(ctx, billing.Invoice{ID: "b", LeaseID: "l1", Period: march}))

	invoices, err := m.ListInvoices(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, invoices, 2)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)

	require.NoError(t, m.Reset(ctx))

	_, err := m.GetLease(ctx, "l1")
	assert.True(t, billing.IsNotFound(err))
}
