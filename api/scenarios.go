/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	billing data. Each scenario creates a landlord's property, room and
	lease, loads a tariff sheet through the factory, records meter
	readings or service usage, and builds invoices the same way the API
	does.

AVAILABLE SCENARIOS:

	effective-pricing:  Two electricity prices; a March reading bills at the older one
	partial-payment:    The March invoice with one payment of 1,000,000
	overdue-invoice:    May rent due 2025-05-10 and never paid
	service-charges:    Fixed-monthly wifi, per-usage laundry, one repair incident

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create property, room and an active lease for landlord-demo
 3. Import a tariff sheet (factory.UtilityTariffJSON)
 4. Record readings, usage or registrations
 5. Build invoices and optionally record payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payment"}

NOTE:

	Scenarios reset the store. The router only mounts them outside
	production.

SEE ALSO:
  - factory/tariff.go: Tariff sheets
  - handlers.go: The same operations over HTTP
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/factory"
)

// DemoLandlord owns everything the scenarios create.
const DemoLandlord billing.LandlordID = "landlord-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "effective-pricing",
		Name:        "Effective-Dated Pricing",
		Description: "Electricity 3500 from Jan 1 and 4000 from Apr 1; March reading 1250->1420 bills 170 x 3500",
	},
	{
		ID:          "partial-payment",
		Name:        "Partial Payment",
		Description: "Invoice of 3,250,000 with one payment of 1,000,000 (partially paid)",
	},
	{
		ID:          "overdue-invoice",
		Name:        "Overdue Invoice",
		Description: "May rent due 2025-05-10 with no payment; status is derived as overdue",
	},
	{
		ID:          "service-charges",
		Name:        "Service Charges",
		Description: "Fixed-monthly wifi, per-usage laundry and a repair incident on one invoice",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) (*seeded, error)

var scenarioLoaders = map[string]scenarioLoader{
	"effective-pricing": loadEffectivePricingScenario,
	"partial-payment":   loadPartialPaymentScenario,
	"overdue-invoice":   loadOverdueInvoiceScenario,
	"service-charges":   loadServiceChargesScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, r, &billing.ValidationError{Field: "scenario_id", Message: "unknown scenario " + req.ScenarioID})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, r, fmt.Errorf("failed to reset store: %w", err))
		return
	}
	h.currentScenario = ""

	seed, err := load(ctx, h)
	if err != nil {
		writeError(w, r, fmt.Errorf("failed to load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	res := ScenarioResultDTO{
		Status:     "loaded",
		Scenario:   req.ScenarioID,
		LandlordID: string(DemoLandlord),
		PropertyID: string(seed.property),
		LeaseIDs:   []string{string(seed.lease)},
		InvoiceIDs: seed.invoices,
	}
	if h.Tokens != nil {
		if res.Token, err = h.Tokens.Issue(DemoLandlord); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, fmt.Errorf("failed to reset store: %w", err))
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type seeded struct {
	property billing.PropertyID
	room     billing.RoomID
	lease    billing.LeaseID
	invoices []string
}

var (
	march = billing.Period{Start: billing.MustDate("2025-03-01"), End: billing.MustDate("2025-04-01")}
	may   = billing.Period{Start: billing.MustDate("2025-05-01"), End: billing.MustDate("2025-06-01")}
)

// seedLease creates the demo property, one room and an active monthly lease
// paid at period start.
func seedLease(ctx context.Context, h *Handler, rent int64, dueOffset int) (*seeded, error) {
	prop, err := h.Catalog.CreateProperty(ctx, DemoLandlord, "Riverside House")
	if err != nil {
		return nil, err
	}
	room, err := h.Catalog.CreateRoom(ctx, prop.ID, "Room 101")
	if err != nil {
		return nil, err
	}
	start := billing.MustDate("2025-01-01")
	lease, err := h.Catalog.CreateLease(ctx, billing.Lease{
		RoomID:              room.ID,
		TenantName:          "Minh Tran",
		RentAmount:          decimal.NewFromInt(rent),
		BillingPeriodMonths: 1,
		PaymentTiming:       billing.PayAtPeriodStart,
		DueOffsetDays:       dueOffset,
		StartDate:           start,
	})
	if err != nil {
		return nil, err
	}
	if _, err := h.Catalog.ChangeLeaseStatus(ctx, lease.ID, billing.LeaseActive, start); err != nil {
		return nil, err
	}
	return &seeded{property: prop.ID, room: room.ID, lease: lease.ID}, nil
}

// importTariff loads a tariff sheet the way POST /prices/import does.
func importTariff(ctx context.Context, h *Handler, sheet string) error {
	inputs, err := h.Tariffs.ParseTariff(sheet)
	if err != nil {
		return err
	}
	_, err = h.Catalog.AddPricePoints(ctx, inputs)
	return err
}

func recordReading(ctx context.Context, h *Handler, room billing.RoomID, ct billing.CostType, p billing.Period, prev, curr int64, at string) error {
	recordedAt, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	_, err = h.Catalog.RecordReading(ctx, billing.ReadingInput{
		RoomID:        room,
		CostType:      ct,
		Period:        p,
		PreviousIndex: decimal.NewFromInt(prev),
		CurrentIndex:  decimal.NewFromInt(curr),
		RecordedAt:    recordedAt,
	})
	return err
}

func (s *seeded) build(ctx context.Context, h *Handler, p billing.Period) (billing.Invoice, error) {
	inv, err := h.Builder.Build(ctx, s.lease, p)
	if err != nil {
		return billing.Invoice{}, err
	}
	s.invoices = append(s.invoices, string(inv.ID))
	return inv, nil
}

// loadEffectivePricingScenario bills March: rent 2,500,000, electricity
// 170 x 3500 and water 10 x 15500, for 3,250,000 in total. The 4000 price
// from April does not apply to a reading taken on March 15.
func loadEffectivePricingScenario(ctx context.Context, h *Handler) (*seeded, error) {
	s, err := seedLease(ctx, h, 2_500_000, 9)
	if err != nil {
		return nil, err
	}
	if err := importTariff(ctx, h, factory.UtilityTariffJSON(s.property, "3500", "15500", "2025-01-01")); err != nil {
		return nil, err
	}
	if _, err := h.Catalog.AddPricePoint(ctx, billing.PriceInput{
		Scope:         billing.UtilityScope(s.property, billing.CostElectricity),
		UnitPrice:     decimal.NewFromInt(4000),
		EffectiveDate: billing.MustDate("2025-04-01"),
	}); err != nil {
		return nil, err
	}
	if err := recordReading(ctx, h, s.room, billing.CostElectricity, march, 1250, 1420, "2025-03-15T09:00:00Z"); err != nil {
		return nil, err
	}
	if err := recordReading(ctx, h, s.room, billing.CostWater, march, 40, 50, "2025-03-15T09:05:00Z"); err != nil {
		return nil, err
	}
	if _, err := s.build(ctx, h, march); err != nil {
		return nil, err
	}
	return s, nil
}

func loadPartialPaymentScenario(ctx context.Context, h *Handler) (*seeded, error) {
	s, err := loadEffectivePricingScenario(ctx, h)
	if err != nil {
		return nil, err
	}
	_, _, err = h.Ledger.RecordPayment(ctx, billing.PaymentInput{
		InvoiceID:   billing.InvoiceID(s.invoices[0]),
		Amount:      decimal.NewFromInt(1_000_000),
		Method:      billing.MethodBankTransfer,
		ExternalRef: "VCB-20250308-0001",
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// loadOverdueInvoiceScenario bills May rent only. Due on the 10th, unpaid,
// so any day from 2025-05-11 on reads as overdue.
func loadOverdueInvoiceScenario(ctx context.Context, h *Handler) (*seeded, error) {
	s, err := seedLease(ctx, h, 2_500_000, 9)
	if err != nil {
		return nil, err
	}
	if _, err := s.build(ctx, h, may); err != nil {
		return nil, err
	}
	return s, nil
}

func loadServiceChargesScenario(ctx context.Context, h *Handler) (*seeded, error) {
	s, err := seedLease(ctx, h, 2_500_000, 9)
	if err != nil {
		return nil, err
	}

	services := []struct {
		name  string
		kind  billing.ServiceKind
		unit  string
		price int64
	}{
		{"Wifi", billing.ServiceFixedMonthly, "month", 100_000},
		{"Laundry", billing.ServicePerUsage, "load", 20_000},
		{"Plumbing repair", billing.ServiceIncident, "visit", 150_000},
	}
	ids := make([]billing.ServiceID, len(services))
	var sheet factory.TariffJSON
	sheet.PropertyID = string(s.property)
	for i, svc := range services {
		def, err := h.Catalog.CreateService(ctx, billing.ServiceInput{
			PropertyID: s.property,
			Name:       svc.name,
			Kind:       svc.kind,
			Unit:       svc.unit,
		})
		if err != nil {
			return nil, err
		}
		ids[i] = def.ID
		sheet.Prices = append(sheet.Prices, factory.PriceJSON{
			Type:          string(billing.CostService),
			ServiceID:     string(def.ID),
			UnitPrice:     decimal.NewFromInt(svc.price),
			EffectiveDate: "2025-01-01",
		})
	}
	inputs, err := h.Tariffs.FromJSON(sheet)
	if err != nil {
		return nil, err
	}
	if _, err := h.Catalog.AddPricePoints(ctx, inputs); err != nil {
		return nil, err
	}

	if _, err := h.Catalog.RegisterService(ctx, s.lease, ids[0], billing.MustDate("2025-01-01"), nil); err != nil {
		return nil, err
	}
	usage := []billing.UsageInput{
		{ServiceID: ids[1], RoomID: s.room, Date: billing.MustDate("2025-03-04"), Quantity: decimal.NewFromInt(2)},
		{ServiceID: ids[1], RoomID: s.room, Date: billing.MustDate("2025-03-18"), Quantity: decimal.NewFromInt(1)},
		{ServiceID: ids[2], RoomID: s.room, Date: billing.MustDate("2025-03-22"), Quantity: decimal.NewFromInt(1), Note: "kitchen sink leak"},
	}
	for _, in := range usage {
		if _, err := h.Catalog.RecordUsage(ctx, in); err != nil {
			return nil, err
		}
	}
	if _, err := s.build(ctx, h, march); err != nil {
		return nil, err
	}
	return s, nil
}
