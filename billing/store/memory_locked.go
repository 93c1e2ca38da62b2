package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// Direct calls outside WithTx take the lock for the duration of one call.
// Reads share it, writes are exclusive.

func (m *Memory) InsertPricePoint(ctx context.Context, p billing.PricePoint) (billing.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertPricePoint(ctx, p)
}

func (m *Memory) GetPricePoint(ctx context.Context, id billing.PricePointID) (billing.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPricePoint(ctx, id)
}

func (m *Memory) ListPricePoints(ctx context.Context, scope billing.PriceScope) ([]billing.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPricePoints(ctx, scope)
}

func (m *Memory) LatestPricePoint(ctx context.Context, scope billing.PriceScope, asOf billing.Date) (billing.PricePoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LatestPricePoint(ctx, scope, asOf)
}

func (m *Memory) DeletePricePoint(ctx context.Context, id billing.PricePointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeletePricePoint(ctx, id)
}

func (m *Memory) CountPriceReferences(ctx context.Context, id billing.PricePointID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountPriceReferences(ctx, id)
}

func (m *Memory) LatestInvoicedAsOf(ctx context.Context, scope billing.PriceScope) (*billing.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LatestInvoicedAsOf(ctx, scope)
}

func (m *Memory) SaveProperty(ctx context.Context, p billing.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveProperty(ctx, p)
}

func (m *Memory) GetProperty(ctx context.Context, id billing.PropertyID) (billing.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetProperty(ctx, id)
}

func (m *Memory) SaveRoom(ctx context.Context, r billing.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRoom(ctx, r)
}

func (m *Memory) GetRoom(ctx context.Context, id billing.RoomID) (billing.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetRoom(ctx, id)
}

func (m *Memory) SaveLease(ctx context.Context, l billing.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveLease(ctx, l)
}

func (m *Memory) GetLease(ctx context.Context, id billing.LeaseID) (billing.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLease(ctx, id)
}

func (m *Memory) InsertReading(ctx context.Context, r billing.ConsumptionReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertReading(ctx, r)
}

func (m *Memory) GetReading(ctx context.Context, id billing.ReadingID) (billing.ConsumptionReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetReading(ctx, id)
}

func (m *Memory) UpdateReading(ctx context.Context, r billing.ConsumptionReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateReading(ctx, r)
}

func (m *Memory) DeleteReading(ctx context.Context, id billing.ReadingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteReading(ctx, id)
}

func (m *Memory) ListReadings(ctx context.Context, room billing.RoomID, window billing.Period) ([]billing.ConsumptionReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListReadings(ctx, room, window)
}

func (m *Memory) ClaimReading(ctx context.Context, id billing.ReadingID, invoice billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClaimReading(ctx, id, invoice)
}

func (m *Memory) ReleaseReadings(ctx context.Context, invoice billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReleaseReadings(ctx, invoice)
}

func (m *Memory) SaveService(ctx context.Context, d billing.ServiceDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveService(ctx, d)
}

func (m *Memory) GetService(ctx context.Context, id billing.ServiceID) (billing.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetService(ctx, id)
}

func (m *Memory) DeleteService(ctx context.Context, id billing.ServiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteService(ctx, id)
}

func (m *Memory) CountServiceReferences(ctx context.Context, id billing.ServiceID) (billing.ServiceReferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountServiceReferences(ctx, id)
}

func (m *Memory) InsertRegistration(ctx context.Context, r billing.ServiceRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertRegistration(ctx, r)
}

func (m *Memory) ListRegistrations(ctx context.Context, lease billing.LeaseID) ([]billing.ServiceRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListRegistrations(ctx, lease)
}

func (m *Memory) InsertUsage(ctx context.Context, u billing.ServiceUsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertUsage(ctx, u)
}

func (m *Memory) GetUsage(ctx context.Context, id billing.UsageRecordID) (billing.ServiceUsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUsage(ctx, id)
}

func (m *Memory) ListUnbilledUsage(ctx context.Context, room billing.RoomID, p billing.Period) ([]billing.ServiceUsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUnbilledUsage(ctx, room, p)
}

func (m *Memory) ClaimUsage(ctx context.Context, id billing.UsageRecordID, invoice billing.InvoiceID, unitPrice, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClaimUsage(ctx, id, invoice, unitPrice, amount)
}

func (m *Memory) ReleaseUsage(ctx context.Context, invoice billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReleaseUsage(ctx, invoice)
}

func (m *Memory) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertInvoice(ctx, inv)
}

func (m *Memory) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetInvoice(ctx, id)
}

func (m *Memory) ListInvoices(ctx context.Context, lease billing.LeaseID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListInvoices(ctx, lease)
}

func (m *Memory) UpdateInvoiceStatus(ctx context.Context, id billing.InvoiceID, status billing.InvoiceStatus, voidedAt *time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateInvoiceStatus(ctx, id, status, voidedAt, reason)
}

func (m *Memory) AppendPayment(ctx context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendPayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayments(ctx, invoice)
}
