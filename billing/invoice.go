/*
invoice.go - Atomic invoice assembly

PURPOSE:
  Builds the invoice of one lease for one period. Aggregation, pricing,
  persistence and claiming of records all run in a single store
  transaction: either the whole invoice exists afterwards, with every
  reading and usage record it billed marked as claimed, or nothing
  changed at all.

LINE ORDER:
  1. Rent, quantity 1, unit price = lease rent (no price lookup)
  2. One line per reading: consumption x utility price
  3. One line per active fixed-monthly registration, priced at period start
  4. One line per usage record, priced at the usage date

AS-OF POLICY FOR UTILITIES:
  reading_date (default): the date the reading was recorded
  period_end:             the last day inside the billing period

ROUNDING:
  Each line amount is rounded half-up on its own; the total is the exact
  sum of the rounded lines, so lines always add up to the total.

SEE ALSO:
  - aggregator.go: What gets billed
  - pricing.go: At what price
  - payment.go: What happens after
*/
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AsOfPolicy string

const (
	AsOfReadingDate AsOfPolicy = "reading_date"
	AsOfPeriodEnd   AsOfPolicy = "period_end"
)

func ParseAsOfPolicy(s string) (AsOfPolicy, error) {
	switch p := AsOfPolicy(s); p {
	case "":
		return AsOfReadingDate, nil
	case AsOfReadingDate, AsOfPeriodEnd:
		return p, nil
	}
	return "", &ValidationError{Field: "utility_price_as_of", Message: "unknown policy " + s}
}

type BuilderConfig struct {
	UtilityPriceAsOf AsOfPolicy
	Rounding         Rounding
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{UtilityPriceAsOf: AsOfReadingDate}
}

type Builder struct {
	store  TxStore
	config BuilderConfig

	Clock  Clock
	Logger *zap.Logger
	NewID  func() string
}

func NewBuilder(store TxStore, config BuilderConfig) *Builder {
	if config.UtilityPriceAsOf == "" {
		config.UtilityPriceAsOf = AsOfReadingDate
	}
	return &Builder{
		store:  store,
		config: config,
		Clock:  SystemClock,
		Logger: zap.NewNop(),
		NewID:  uuid.NewString,
	}
}

// Build creates the invoice for lease over p.
func (b *Builder) Build(ctx context.Context, leaseID LeaseID, p Period) (Invoice, error) {
	if err := p.Validate(); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	err := b.store.WithTx(ctx, func(s Store) error {
		lease, err := s.GetLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if !lease.BillableDuring(p) {
			return &InactiveLeaseError{LeaseID: lease.ID, Status: lease.Status, Period: p}
		}
		col, err := NewAggregator(s).collectFor(ctx, lease, p)
		if err != nil {
			return err
		}
		inv, err = b.assemble(ctx, NewResolver(s), col)
		if err != nil {
			return err
		}
		if err := s.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return b.claim(ctx, s, inv)
	})
	if err != nil {
		b.Logger.Warn("invoice build rejected",
			zap.String("lease_id", string(leaseID)),
			zap.Stringer("period", p),
			zap.String("code", Code(err)),
			zap.Error(err))
		return Invoice{}, err
	}
	b.Logger.Info("invoice built",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("lease_id", string(leaseID)),
		zap.Stringer("period", p),
		zap.Int("lines", len(inv.LineItems)),
		zap.String("total_due", inv.TotalDue.String()))
	return inv, nil
}

func (b *Builder) assemble(ctx context.Context, resolver *Resolver, col Collection) (Invoice, error) {
	round := b.config.Rounding
	inv := Invoice{
		ID:        InvoiceID(b.NewID()),
		LeaseID:   col.Lease.ID,
		Period:    col.Period,
		DueDate:   col.Lease.DueDate(col.Period),
		Status:    InvoiceUnpaid,
		CreatedAt: b.Clock.Now(),
	}
	add := func(li InvoiceLineItem) {
		li.ID = LineItemID(b.NewID())
		li.InvoiceID = inv.ID
		li.Position = len(inv.LineItems) + 1
		li.Amount = round.LineAmount(li.Quantity, li.UnitPrice)
		inv.LineItems = append(inv.LineItems, li)
	}
	priced := func(li InvoiceLineItem, pp PricePoint, asOf Date) InvoiceLineItem {
		id, day := pp.ID, asOf
		li.UnitPrice = pp.UnitPrice
		li.PricePointID = &id
		li.PriceScope = pp.Scope.Key()
		li.PriceAsOf = &day
		return li
	}

	add(InvoiceLineItem{
		Kind:        LineRent,
		Description: fmt.Sprintf("Rent %s", col.Period),
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   col.Lease.RentAmount,
	})

	for _, r := range col.Readings {
		asOf := DateOf(r.RecordedAt)
		if b.config.UtilityPriceAsOf == AsOfPeriodEnd {
			asOf = col.Period.LastDay()
		}
		pp, err := resolver.Resolve(ctx, UtilityScope(col.Lease.PropertyID, r.CostType), asOf)
		if err != nil {
			return Invoice{}, err
		}
		add(priced(InvoiceLineItem{
			Kind:        LineItemKind(r.CostType),
			Description: fmt.Sprintf("%s %s -> %s", r.CostType, r.PreviousIndex, r.CurrentIndex),
			Quantity:    r.Consumption(),
			ReadingID:   r.ID,
		}, pp, asOf))
	}

	for _, fc := range col.FixedServices {
		asOf := col.Period.Start
		pp, err := resolver.Resolve(ctx, ServiceScope(fc.Service.ID), asOf)
		if err != nil {
			return Invoice{}, err
		}
		add(priced(InvoiceLineItem{
			Kind:        fc.Service.Kind.LineKind(),
			Description: fc.Service.Name,
			Quantity:    decimal.NewFromInt(1),
			ServiceID:   fc.Service.ID,
		}, pp, asOf))
	}

	for _, uc := range col.UsageRecords {
		asOf := uc.Record.Date
		pp, err := resolver.Resolve(ctx, ServiceScope(uc.Service.ID), asOf)
		if err != nil {
			return Invoice{}, err
		}
		desc := fmt.Sprintf("%s on %s", uc.Service.Name, asOf)
		if uc.Record.Note != "" {
			desc += ": " + uc.Record.Note
		}
		add(priced(InvoiceLineItem{
			Kind:          uc.Service.Kind.LineKind(),
			Description:   desc,
			Quantity:      uc.Record.Quantity,
			UsageRecordID: uc.Record.ID,
			ServiceID:     uc.Service.ID,
		}, pp, asOf))
	}

	inv.TotalDue = inv.LineTotal()
	return inv, nil
}

func (b *Builder) claim(ctx context.Context, s Store, inv Invoice) error {
	for _, li := range inv.LineItems {
		switch {
		case li.ReadingID != "":
			if err := s.ClaimReading(ctx, li.ReadingID, inv.ID); err != nil {
				return err
			}
		case li.UsageRecordID != "":
			if err := s.ClaimUsage(ctx, li.UsageRecordID, inv.ID, li.UnitPrice, li.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}
