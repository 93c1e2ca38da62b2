// Package store provides an in-memory billing.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps behind one mutex. WithTx holds the write
// lock for the whole callback and restores a snapshot if it fails, which
// gives the same all-or-nothing behaviour as the SQLite store.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var (
	_ billing.TxStore = (*Memory)(nil)
	_ billing.Store   = (*state)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx runs fn against the live state and rolls back on error or panic.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.st.clone()
	defer func() {
		if p := recover(); p != nil {
			m.st = snap
			panic(p)
		}
	}()
	if err := fn(m.st); err != nil {
		m.st = snap
		return err
	}
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// STATE - Unlocked storage, shared by direct calls and transactions
// =============================================================================

type state struct {
	properties map[billing.PropertyID]billing.Property
	rooms      map[billing.RoomID]billing.Room
	leases     map[billing.LeaseID]billing.Lease

	// prices per scope key, kept sorted by (effective date, id)
	prices      map[string][]billing.PricePoint
	priceScope  map[billing.PricePointID]string
	nextPriceID billing.PricePointID

	readings      map[billing.ReadingID]billing.ConsumptionReading
	services      map[billing.ServiceID]billing.ServiceDefinition
	registrations map[billing.LeaseID][]billing.ServiceRegistration
	usage         map[billing.UsageRecordID]billing.ServiceUsageRecord

	invoices     map[billing.InvoiceID]billing.Invoice
	invoiceOrder []billing.InvoiceID
	payments     map[billing.InvoiceID][]billing.Payment
}

func newState() *state {
	return &state{
		properties:    map[billing.PropertyID]billing.Property{},
		rooms:         map[billing.RoomID]billing.Room{},
		leases:        map[billing.LeaseID]billing.Lease{},
		prices:        map[string][]billing.PricePoint{},
		priceScope:    map[billing.PricePointID]string{},
		readings:      map[billing.ReadingID]billing.ConsumptionReading{},
		services:      map[billing.ServiceID]billing.ServiceDefinition{},
		registrations: map[billing.LeaseID][]billing.ServiceRegistration{},
		usage:         map[billing.UsageRecordID]billing.ServiceUsageRecord{},
		invoices:      map[billing.InvoiceID]billing.Invoice{},
		payments:      map[billing.InvoiceID][]billing.Payment{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.properties {
		c.properties[k] = v
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.leases {
		c.leases[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = append([]billing.PricePoint(nil), v...)
	}
	for k, v := range s.priceScope {
		c.priceScope[k] = v
	}
	c.nextPriceID = s.nextPriceID
	for k, v := range s.readings {
		c.readings[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.registrations {
		c.registrations[k] = append([]billing.ServiceRegistration(nil), v...)
	}
	for k, v := range s.usage {
		c.usage[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	c.invoiceOrder = append([]billing.InvoiceID(nil), s.invoiceOrder...)
	for k, v := range s.payments {
		c.payments[k] = append([]billing.Payment(nil), v...)
	}
	return c
}

func notFound(entity string, id any) error {
	return &billing.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// ----- prices -----

func (s *state) InsertPricePoint(_ context.Context, p billing.PricePoint) (billing.PricePoint, error) {
	s.nextPriceID++
	p.ID = s.nextPriceID
	k := p.Scope.Key()
	points := s.prices[k]
	i := sort.Search(len(points), func(i int) bool { return billing.Supersedes(points[i], p) })
	points = append(points, billing.PricePoint{})
	copy(points[i+1:], points[i:])
	points[i] = p
	s.prices[k] = points
	s.priceScope[p.ID] = k
	return p, nil
}

func (s *state) GetPricePoint(_ context.Context, id billing.PricePointID) (billing.PricePoint, error) {
	for _, p := range s.prices[s.priceScope[id]] {
		if p.ID == id {
			return p, nil
		}
	}
	return billing.PricePoint{}, notFound("price point", id)
}

func (s *state) ListPricePoints(_ context.Context, scope billing.PriceScope) ([]billing.PricePoint, error) {
	return append([]billing.PricePoint(nil), s.prices[scope.Key()]...), nil
}

func (s *state) LatestPricePoint(_ context.Context, scope billing.PriceScope, asOf billing.Date) (billing.PricePoint, bool, error) {
	points := s.prices[scope.Key()]
	// first point effective after asOf; the one before it wins
	i := sort.Search(len(points), func(i int) bool { return points[i].EffectiveDate.After(asOf) })
	if i == 0 {
		return billing.PricePoint{}, false, nil
	}
	return points[i-1], true, nil
}

func (s *state) DeletePricePoint(_ context.Context, id billing.PricePointID) error {
	k, ok := s.priceScope[id]
	if !ok {
		return notFound("price point", id)
	}
	points := s.prices[k]
	for i, p := range points {
		if p.ID == id {
			s.prices[k] = append(points[:i:i], points[i+1:]...)
			break
		}
	}
	delete(s.priceScope, id)
	return nil
}

func (s *state) CountPriceReferences(_ context.Context, id billing.PricePointID) (int, error) {
	n := 0
	for _, inv := range s.invoices {
		for _, li := range inv.LineItems {
			if li.PricePointID != nil && *li.PricePointID == id {
				n++
			}
		}
	}
	return n, nil
}

func (s *state) LatestInvoicedAsOf(_ context.Context, scope billing.PriceScope) (*billing.Date, error) {
	var latest *billing.Date
	k := scope.Key()
	for _, inv := range s.invoices {
		if inv.IsVoid() {
			continue
		}
		for _, li := range inv.LineItems {
			if li.PriceScope != k || li.PriceAsOf == nil {
				continue
			}
			if latest == nil || li.PriceAsOf.After(*latest) {
				d := *li.PriceAsOf
				latest = &d
			}
		}
	}
	return latest, nil
}

// ----- properties, rooms, leases -----

func (s *state) SaveProperty(_ context.Context, p billing.Property) error {
	s.properties[p.ID] = p
	return nil
}

func (s *state) GetProperty(_ context.Context, id billing.PropertyID) (billing.Property, error) {
	p, ok := s.properties[id]
	if !ok {
		return billing.Property{}, notFound("property", id)
	}
	return p, nil
}

func (s *state) SaveRoom(_ context.Context, r billing.Room) error {
	if _, ok := s.properties[r.PropertyID]; !ok {
		return notFound("property", r.PropertyID)
	}
	s.rooms[r.ID] = r
	return nil
}

func (s *state) GetRoom(_ context.Context, id billing.RoomID) (billing.Room, error) {
	r, ok := s.rooms[id]
	if !ok {
		return billing.Room{}, notFound("room", id)
	}
	return r, nil
}

func (s *state) SaveLease(_ context.Context, l billing.Lease) error {
	if _, ok := s.rooms[l.RoomID]; !ok {
		return notFound("room", l.RoomID)
	}
	s.leases[l.ID] = l
	return nil
}

func (s *state) GetLease(_ context.Context, id billing.LeaseID) (billing.Lease, error) {
	l, ok := s.leases[id]
	if !ok {
		return billing.Lease{}, notFound("lease", id)
	}
	return l, nil
}

// ----- readings -----

func (s *state) InsertReading(_ context.Context, r billing.ConsumptionReading) error {
	if _, ok := s.readings[r.ID]; ok {
		return &billing.ConflictError{Code: billing.CodeConcurrentModification, Message: "reading " + string(r.ID) + " exists"}
	}
	s.readings[r.ID] = r
	return nil
}

func (s *state) GetReading(_ context.Context, id billing.ReadingID) (billing.ConsumptionReading, error) {
	r, ok := s.readings[id]
	if !ok {
		return billing.ConsumptionReading{}, notFound("reading", id)
	}
	return r, nil
}

func (s *state) UpdateReading(_ context.Context, r billing.ConsumptionReading) error {
	if _, ok := s.readings[r.ID]; !ok {
		return notFound("reading", r.ID)
	}
	s.readings[r.ID] = r
	return nil
}

func (s *state) DeleteReading(_ context.Context, id billing.ReadingID) error {
	if _, ok := s.readings[id]; !ok {
		return notFound("reading", id)
	}
	delete(s.readings, id)
	return nil
}

func (s *state) ListReadings(_ context.Context, room billing.RoomID, window billing.Period) ([]billing.ConsumptionReading, error) {
	var out []billing.ConsumptionReading
	for _, r := range s.readings {
		if r.RoomID == room && window.Covers(r.Period) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) ClaimReading(_ context.Context, id billing.ReadingID, invoice billing.InvoiceID) error {
	r, ok := s.readings[id]
	if !ok {
		return notFound("reading", id)
	}
	if r.Status != billing.ReadingRecorded {
		return fmt.Errorf("claim reading %s (%s): %w", id, r.Status, billing.ErrConcurrentModification)
	}
	r.Status, r.InvoiceID = billing.ReadingBilled, invoice
	s.readings[id] = r
	return nil
}

func (s *state) ReleaseReadings(_ context.Context, invoice billing.InvoiceID) error {
	for id, r := range s.readings {
		if r.InvoiceID == invoice && r.Status == billing.ReadingBilled {
			r.Status, r.InvoiceID = billing.ReadingRecorded, ""
			s.readings[id] = r
		}
	}
	return nil
}

// ----- services -----

func (s *state) SaveService(_ context.Context, d billing.ServiceDefinition) error {
	s.services[d.ID] = d
	return nil
}

func (s *state) GetService(_ context.Context, id billing.ServiceID) (billing.ServiceDefinition, error) {
	d, ok := s.services[id]
	if !ok {
		return billing.ServiceDefinition{}, notFound("service", id)
	}
	return d, nil
}

func (s *state) DeleteService(_ context.Context, id billing.ServiceID) error {
	if _, ok := s.services[id]; !ok {
		return notFound("service", id)
	}
	delete(s.services, id)
	return nil
}

func (s *state) CountServiceReferences(_ context.Context, id billing.ServiceID) (billing.ServiceReferences, error) {
	var refs billing.ServiceReferences
	for _, regs := range s.registrations {
		for _, r := range regs {
			if r.ServiceID == id {
				refs.Registrations++
			}
		}
	}
	for _, u := range s.usage {
		if u.ServiceID == id {
			refs.UsageRecords++
		}
	}
	for _, inv := range s.invoices {
		for _, li := range inv.LineItems {
			if li.ServiceID == id {
				refs.LineItems++
			}
		}
	}
	return refs, nil
}

func (s *state) InsertRegistration(_ context.Context, r billing.ServiceRegistration) error {
	s.registrations[r.LeaseID] = append(s.registrations[r.LeaseID], r)
	return nil
}

func (s *state) ListRegistrations(_ context.Context, lease billing.LeaseID) ([]billing.ServiceRegistration, error) {
	return append([]billing.ServiceRegistration(nil), s.registrations[lease]...), nil
}

func (s *state) InsertUsage(_ context.Context, u billing.ServiceUsageRecord) error {
	s.usage[u.ID] = u
	return nil
}

func (s *state) GetUsage(_ context.Context, id billing.UsageRecordID) (billing.ServiceUsageRecord, error) {
	u, ok := s.usage[id]
	if !ok {
		return billing.ServiceUsageRecord{}, notFound("usage record", id)
	}
	return u, nil
}

func (s *state) ListUnbilledUsage(_ context.Context, room billing.RoomID, p billing.Period) ([]billing.ServiceUsageRecord, error) {
	var out []billing.ServiceUsageRecord
	for _, u := range s.usage {
		if u.RoomID == room && u.InvoiceID == "" && p.Contains(u.Date) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) ClaimUsage(_ context.Context, id billing.UsageRecordID, invoice billing.InvoiceID, unitPrice, amount decimal.Decimal) error {
	u, ok := s.usage[id]
	if !ok {
		return notFound("usage record", id)
	}
	if u.InvoiceID != "" {
		return fmt.Errorf("claim usage %s: %w", id, billing.ErrConcurrentModification)
	}
	u.InvoiceID, u.ResolvedUnitPrice, u.Amount = invoice, unitPrice, amount
	s.usage[id] = u
	return nil
}

func (s *state) ReleaseUsage(_ context.Context, invoice billing.InvoiceID) error {
	for id, u := range s.usage {
		if u.InvoiceID == invoice {
			u.InvoiceID = ""
			u.ResolvedUnitPrice = decimal.Zero
			u.Amount = decimal.Zero
			s.usage[id] = u
		}
	}
	return nil
}

// ----- invoices and payments -----

func (s *state) InsertInvoice(_ context.Context, inv billing.Invoice) error {
	for _, other := range s.invoices {
		if other.LeaseID == inv.LeaseID && other.Period.Equal(inv.Period) && !other.IsVoid() {
			return &billing.ConflictError{
				Code:    billing.CodeInvoiceExists,
				Message: fmt.Sprintf("lease %s already has invoice %s for %s", inv.LeaseID, other.ID, inv.Period),
			}
		}
	}
	inv.LineItems = append([]billing.InvoiceLineItem(nil), inv.LineItems...)
	s.invoices[inv.ID] = inv
	s.invoiceOrder = append(s.invoiceOrder, inv.ID)
	return nil
}

func (s *state) GetInvoice(_ context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return billing.Invoice{}, notFound("invoice", id)
	}
	inv.LineItems = append([]billing.InvoiceLineItem(nil), inv.LineItems...)
	return inv, nil
}

func (s *state) ListInvoices(ctx context.Context, lease billing.LeaseID) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, id := range s.invoiceOrder {
		if s.invoices[id].LeaseID == lease {
			inv, _ := s.GetInvoice(ctx, id)
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, nil
}

func (s *state) UpdateInvoiceStatus(_ context.Context, id billing.InvoiceID, status billing.InvoiceStatus, voidedAt *time.Time, reason string) error {
	inv, ok := s.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	inv.Status = status
	if voidedAt != nil {
		inv.VoidedAt, inv.VoidReason = voidedAt, reason
	}
	s.invoices[id] = inv
	return nil
}

func (s *state) AppendPayment(_ context.Context, p billing.Payment) error {
	if _, ok := s.invoices[p.InvoiceID]; !ok {
		return notFound("invoice", p.InvoiceID)
	}
	s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], p)
	return nil
}

func (s *state) ListPayments(_ context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	return append([]billing.Payment(nil), s.payments[invoice]...), nil
}
