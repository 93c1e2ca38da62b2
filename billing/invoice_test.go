package billing_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func TestBuild_UtilityLinePricedAtReadingDate(t *testing.T) {
	// GIVEN: 3500 from January, 4000 from April, a reading recorded mid-March
	f := newFixture(t)
	jan := f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	f.addUtilityPrice(t, billing.CostElectricity, "4000", "2025-04-01")
	r := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")

	// WHEN
	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	// THEN: rent plus one electricity line of 170 x 3500
	require.NoError(t, err)
	require.Len(t, inv.LineItems, 2)

	rent := inv.LineItems[0]
	assert.Equal(t, billing.LineRent, rent.Kind)
	assertAmount(t, "2500000", rent.Amount)
	assert.Nil(t, rent.PricePointID)

	elec := inv.LineItems[1]
	assert.Equal(t, billing.LineElectricity, elec.Kind)
	assertAmount(t, "170", elec.Quantity)
	assertAmount(t, "3500", elec.UnitPrice)
	assertAmount(t, "595000", elec.Amount)
	require.NotNil(t, elec.PricePointID)
	assert.Equal(t, jan.ID, *elec.PricePointID)
	assert.Equal(t, day("2025-03-15"), *elec.PriceAsOf)
	assert.Equal(t, r.ID, elec.ReadingID)

	assertAmount(t, "3095000", inv.TotalDue)
	assert.Equal(t, day("2025-03-10"), inv.DueDate)
	assert.Equal(t, billing.InvoiceUnpaid, inv.Status)
}

func TestBuild_TotalEqualsSumOfLines(t *testing.T) {
	f := newFixture(t)
	inv := f.paymentScenario(t)

	assert.True(t, inv.TotalDue.Equal(inv.LineTotal()))

	stored, err := f.store.GetInvoice(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalDue.Equal(stored.LineTotal()))
	assert.Len(t, stored.LineItems, 3)
}

func TestBuild_ClaimsReadings(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	r := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")

	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)

	got, err := f.store.GetReading(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingBilled, got.Status)
	assert.Equal(t, inv.ID, got.InvoiceID)
}

func TestBuild_MissingPriceLeavesNoPartialState(t *testing.T) {
	// GIVEN: electricity is priced, water is not
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	elec := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")
	f.recordReading(t, billing.CostWater, march(), "40", "50", "2025-03-15")

	// WHEN
	_, err := f.builder.Build(f.ctx, f.lease.ID, march())

	// THEN: the build fails and nothing was written or claimed
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrMissingPrice))
	assert.Equal(t, billing.CodeMissingPrice, billing.Code(err))

	invoices, err := f.store.ListInvoices(f.ctx, f.lease.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)

	got, err := f.store.GetReading(f.ctx, elec.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingRecorded, got.Status)
	assert.Empty(t, got.InvoiceID)

	// adding the missing price makes the same build succeed
	f.addUtilityPrice(t, billing.CostWater, "15500", "2025-01-01")
	_, err = f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
}

func TestBuild_InactiveLease(t *testing.T) {
	f := newFixture(t)
	lease, err := f.catalog.CreateLease(f.ctx, billing.Lease{
		RoomID:     f.room.ID,
		RentAmount: dec("1000000"),
		StartDate:  day("2025-01-01"),
	})
	require.NoError(t, err)

	_, err = f.builder.Build(f.ctx, lease.ID, march())

	var inactive *billing.InactiveLeaseError
	require.True(t, errors.As(err, &inactive))
	assert.Equal(t, billing.LeaseNew, inactive.Status)
	assert.Equal(t, billing.CodeInactiveLease, billing.Code(err))
}

func TestBuild_TerminatedLeaseBillsOnlyOverlappingPeriods(t *testing.T) {
	f := newFixture(t)
	_, err := f.catalog.ChangeLeaseStatus(f.ctx, f.lease.ID, billing.LeaseTerminated, day("2025-02-15"))
	require.NoError(t, err)

	_, err = f.builder.Build(f.ctx, f.lease.ID, period("2025-02-01", "2025-03-01"))
	require.NoError(t, err)

	_, err = f.builder.Build(f.ctx, f.lease.ID, march())
	assert.True(t, errors.Is(err, billing.ErrInactiveLease))
}

func TestBuild_SecondBuildForSamePeriodConflicts(t *testing.T) {
	f := newFixture(t)
	first, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)

	_, err = f.builder.Build(f.ctx, f.lease.ID, march())
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrConflict))
	assert.Equal(t, billing.CodeInvoiceExists, billing.Code(err))

	// voiding frees the period
	_, err = f.ledger.VoidInvoice(f.ctx, first.ID, "wrong rent")
	require.NoError(t, err)
	second, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBuild_ReadingIsNeverBilledTwice(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	r := f.recordReading(t, billing.CostElectricity, period("2025-03-01", "2025-03-16"), "1250", "1300", "2025-03-16")

	// a half-month invoice takes the reading
	_, err := f.builder.Build(f.ctx, f.lease.ID, period("2025-03-01", "2025-03-16"))
	require.NoError(t, err)

	// an overlapping full-month invoice must not bill it again
	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
	for _, li := range inv.LineItems {
		assert.NotEqual(t, r.ID, li.ReadingID)
	}
}

func TestBuild_VoidReleasesReadingsForRebuild(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	r := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")
	first, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)

	_, err = f.ledger.VoidInvoice(f.ctx, first.ID, "rebill")
	require.NoError(t, err)
	got, err := f.store.GetReading(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ReadingRecorded, got.Status)

	second, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
	require.Len(t, second.LineItems, 2)
	assert.Equal(t, r.ID, second.LineItems[1].ReadingID)
}

func TestBuild_DuplicateReadingsFail(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	a := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")
	b := f.recordReading(t, billing.CostElectricity, march(), "1250", "1425", "2025-03-16")

	_, err := f.builder.Build(f.ctx, f.lease.ID, march())

	var dup *billing.DuplicateReadingError
	require.True(t, errors.As(err, &dup))
	assert.ElementsMatch(t, []billing.ReadingID{a.ID, b.ID}, dup.ReadingIDs)
	assert.Equal(t, billing.CodeDuplicateReading, billing.Code(err))

	// voiding one of them resolves the conflict
	_, err = f.catalog.VoidReading(f.ctx, a.ID)
	require.NoError(t, err)
	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())
	require.NoError(t, err)
	assertAmount(t, "612500", inv.LineItems[1].Amount)
}

func TestBuild_OverlappingReadingsFail(t *testing.T) {
	// GIVEN: A month-long electricity reading and a half-month one that
	//        covers the same days and meter range
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	a := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-31")
	b := f.recordReading(t, billing.CostElectricity, period("2025-03-01", "2025-03-16"), "1250", "1300", "2025-03-15")

	// WHEN: March is built
	_, err := f.builder.Build(f.ctx, f.lease.ID, march())

	// THEN: Nothing is billed twice
	var dup *billing.DuplicateReadingError
	require.True(t, errors.As(err, &dup), "expected DuplicateReadingError, got %v", err)
	assert.ElementsMatch(t, []billing.ReadingID{a.ID, b.ID}, dup.ReadingIDs)
	assert.Equal(t, billing.CostElectricity, dup.CostType)

	invoices, err := f.store.ListInvoices(f.ctx, f.lease.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestBuild_OverlappingMeterRangeFails(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostWater, "15500", "2025-01-01")
	f.recordReading(t, billing.CostWater, period("2025-03-01", "2025-03-16"), "40", "46", "2025-03-15")
	f.recordReading(t, billing.CostWater, period("2025-03-16", "2025-04-01"), "44", "50", "2025-03-31")

	_, err := f.builder.Build(f.ctx, f.lease.ID, march())

	assert.ErrorIs(t, err, billing.ErrDuplicateReading)
}

func TestBuild_AdjacentReadingsAreBothBilled(t *testing.T) {
	// Two half-month readings that continue each other are not duplicates.
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	f.recordReading(t, billing.CostElectricity, period("2025-03-01", "2025-03-16"), "1250", "1300", "2025-03-15")
	f.recordReading(t, billing.CostElectricity, period("2025-03-16", "2025-04-01"), "1300", "1420", "2025-03-31")

	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	require.NoError(t, err)
	require.Len(t, inv.LineItems, 3)
	assertAmount(t, "175000", inv.LineItems[1].Amount)
	assertAmount(t, "420000", inv.LineItems[2].Amount)
	assertAmount(t, "3095000", inv.TotalDue)
}

func TestBuild_ConcurrentBuildsCreateOneInvoice(t *testing.T) {
	// GIVEN: one lease with March readings
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	elec := f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")

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
			inv, err := f.builder.Build(f.ctx, f.lease.ID, march())
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

	// THEN: one invoice exists and owns the reading
	require.Len(t, built, 1)
	require.Len(t, codes, workers-1)
	for _, code := range codes {
		assert.Contains(t, []string{billing.CodeInvoiceExists, billing.CodeConcurrentModification}, code)
	}
	invoices, err := f.store.ListInvoices(f.ctx, f.lease.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	got, err := f.store.GetReading(f.ctx, elec.ID)
	require.NoError(t, err)
	assert.Equal(t, built[0].ID, got.InvoiceID)
	assertAmount(t, "3095000", invoices[0].TotalDue)
}

func TestBuild_ServicesAndUsage(t *testing.T) {
	// GIVEN: a fixed wifi subscription, per-usage laundry and a repair incident
	f := newFixture(t)
	wifi := f.createService(t, "Wifi", billing.ServiceFixedMonthly, "month")
	laundry := f.createService(t, "Laundry", billing.ServicePerUsage, "load")
	repair := f.createService(t, "Repair", billing.ServiceIncident, "job")
	f.addServicePrice(t, wifi.ID, "100000", "2025-01-01")
	f.addServicePrice(t, laundry.ID, "30000", "2025-01-01")
	f.addServicePrice(t, laundry.ID, "35000", "2025-03-20")
	f.addServicePrice(t, repair.ID, "250000", "2025-01-01")

	_, err := f.catalog.RegisterService(f.ctx, f.lease.ID, wifi.ID, day("2025-02-01"), nil)
	require.NoError(t, err)
	early, err := f.catalog.RecordUsage(f.ctx, billing.UsageInput{
		ServiceID: laundry.ID, RoomID: f.room.ID, Date: day("2025-03-12"), Quantity: dec("2")})
	require.NoError(t, err)
	late, err := f.catalog.RecordUsage(f.ctx, billing.UsageInput{
		ServiceID: laundry.ID, RoomID: f.room.ID, Date: day("2025-03-25"), Quantity: dec("1")})
	require.NoError(t, err)
	_, err = f.catalog.RecordUsage(f.ctx, billing.UsageInput{
		ServiceID: repair.ID, RoomID: f.room.ID, Date: day("2025-03-03"), Quantity: dec("1"), Note: "door lock"})
	require.NoError(t, err)
	// April usage belongs to the next invoice
	_, err = f.catalog.RecordUsage(f.ctx, billing.UsageInput{
		ServiceID: laundry.ID, RoomID: f.room.ID, Date: day("2025-04-01"), Quantity: dec("3")})
	require.NoError(t, err)

	// WHEN
	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	// THEN: rent, wifi, then usage in date order
	require.NoError(t, err)
	require.Len(t, inv.LineItems, 5)
	kinds := []billing.LineItemKind{}
	for _, li := range inv.LineItems {
		kinds = append(kinds, li.Kind)
	}
	assert.Equal(t, []billing.LineItemKind{
		billing.LineRent, billing.LineFixedService, billing.LineOther,
		billing.LineUsageService, billing.LineUsageService,
	}, kinds)

	assertAmount(t, "100000", inv.LineItems[1].Amount)
	assert.Equal(t, day("2025-03-01"), *inv.LineItems[1].PriceAsOf)
	assertAmount(t, "250000", inv.LineItems[2].Amount)
	assert.Contains(t, inv.LineItems[2].Description, "door lock")
	assertAmount(t, "60000", inv.LineItems[3].Amount)
	assertAmount(t, "35000", inv.LineItems[4].Amount)
	assertAmount(t, "2945000", inv.TotalDue)

	// usage records carry the price they were billed at
	got, err := f.store.GetUsage(f.ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.InvoiceID)
	assertAmount(t, "30000", got.ResolvedUnitPrice)
	assertAmount(t, "60000", got.Amount)
	got, err = f.store.GetUsage(f.ctx, late.ID)
	require.NoError(t, err)
	assertAmount(t, "35000", got.ResolvedUnitPrice)
}

func TestBuild_RegistrationOutsidePeriodIsSkipped(t *testing.T) {
	f := newFixture(t)
	parking := f.createService(t, "Parking", billing.ServiceFixedMonthly, "month")
	f.addServicePrice(t, parking.ID, "200000", "2025-01-01")
	end := day("2025-03-01")
	_, err := f.catalog.RegisterService(f.ctx, f.lease.ID, parking.ID, day("2025-01-01"), &end)
	require.NoError(t, err)

	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	require.NoError(t, err)
	assert.Len(t, inv.LineItems, 1)
}

func TestBuild_PeriodEndPolicy(t *testing.T) {
	cfg := billing.DefaultBuilderConfig()
	cfg.UtilityPriceAsOf = billing.AsOfPeriodEnd
	f := newFixtureWithConfig(t, cfg)
	f.addUtilityPrice(t, billing.CostElectricity, "3500", "2025-01-01")
	f.addUtilityPrice(t, billing.CostElectricity, "3800", "2025-03-20")
	f.recordReading(t, billing.CostElectricity, march(), "1250", "1420", "2025-03-15")

	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	require.NoError(t, err)
	elec := inv.LineItems[1]
	assertAmount(t, "3800", elec.UnitPrice)
	assert.Equal(t, day("2025-03-31"), *elec.PriceAsOf)
}

func TestBuild_RoundsEachLineHalfUp(t *testing.T) {
	f := newFixture(t)
	f.addUtilityPrice(t, billing.CostElectricity, "333", "2025-01-01")
	f.addUtilityPrice(t, billing.CostWater, "101", "2025-01-01")
	f.recordReading(t, billing.CostElectricity, march(), "100", "112.5", "2025-03-15")
	f.recordReading(t, billing.CostWater, march(), "10", "10.5", "2025-03-15")

	inv, err := f.builder.Build(f.ctx, f.lease.ID, march())

	require.NoError(t, err)
	// 12.5 x 333 = 4162.5 and 0.5 x 101 = 50.5, each rounded up on its own
	assertAmount(t, "4163", inv.LineItems[1].Amount)
	assertAmount(t, "51", inv.LineItems[2].Amount)
	assertAmount(t, "2504214", inv.TotalDue)
}

func TestBuild_DueDateFollowsPaymentTiming(t *testing.T) {
	f := newFixture(t)
	lease, err := f.catalog.CreateLease(f.ctx, billing.Lease{
		RoomID:        f.room.ID,
		RentAmount:    dec("1000000"),
		PaymentTiming: billing.PayAtPeriodEnd,
		DueOffsetDays: 5,
		StartDate:     day("2025-01-01"),
	})
	require.NoError(t, err)
	_, err = f.catalog.ChangeLeaseStatus(f.ctx, lease.ID, billing.LeaseActive, day("2025-01-01"))
	require.NoError(t, err)

	inv, err := f.builder.Build(f.ctx, lease.ID, march())

	require.NoError(t, err)
	assert.Equal(t, day("2025-04-05"), inv.DueDate)
}

func TestBuild_RejectsInvalidPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Build(f.ctx, f.lease.ID, period("2025-03-01", "2025-03-01"))

	assert.True(t, errors.Is(err, billing.ErrValidation))
}

func TestBuild_UnknownLease(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Build(f.ctx, "nope", march())

	assert.True(t, billing.IsNotFound(err))
}
