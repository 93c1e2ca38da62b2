/*
store.go - Persistence interface for prices, consumption, invoices and payments

PURPOSE:
  Defines the boundary between the billing logic and the database.
  Engine components only ever talk to these interfaces, so the same
  builder runs against SQLite in production and memory in tests.

KEY INTERFACES:
  PriceStore:   Append-only price history per scope
  LeaseStore:   Properties, rooms and leases (collaborator records)
  ReadingStore: Meter readings and their invoice claims
  ServiceStore: Service definitions, registrations and usage records
  InvoiceStore: Invoices with their line items
  PaymentStore: Append-only payments
  TxStore:      All of the above plus WithTx for atomic multi-table writes

CLAIMS:
  ClaimReading and ClaimUsage attach a record to exactly one invoice.
  A claim on a record that is no longer claimable fails with
  ErrConcurrentModification, which aborts the surrounding transaction.

IMPLEMENTATIONS:
  - store/sqlite: SQLite with partial unique indexes and claim tables
  - billing/store/memory.go: In-memory with snapshot rollback
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type PriceStore interface {
	// InsertPricePoint assigns the next id and returns the stored point.
	InsertPricePoint(ctx context.Context, p PricePoint) (PricePoint, error)
	GetPricePoint(ctx context.Context, id PricePointID) (PricePoint, error)

	// ListPricePoints returns the scope's history ordered by effective date, then id.
	ListPricePoints(ctx context.Context, scope PriceScope) ([]PricePoint, error)

	// LatestPricePoint returns the point with the greatest effective date
	// on or before asOf, the larger id winning ties.
	LatestPricePoint(ctx context.Context, scope PriceScope, asOf Date) (PricePoint, bool, error)

	DeletePricePoint(ctx context.Context, id PricePointID) error

	// CountPriceReferences counts invoice line items billed at the point.
	CountPriceReferences(ctx context.Context, id PricePointID) (int, error)

	// LatestInvoicedAsOf returns the greatest as-of date at which a line of
	// a non-void invoice resolved a price in the scope, or nil.
	LatestInvoicedAsOf(ctx context.Context, scope PriceScope) (*Date, error)
}

type LeaseStore interface {
	SaveProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, id PropertyID) (Property, error)
	SaveRoom(ctx context.Context, r Room) error
	GetRoom(ctx context.Context, id RoomID) (Room, error)

	// SaveLease inserts or replaces the lease.
	SaveLease(ctx context.Context, l Lease) error
	GetLease(ctx context.Context, id LeaseID) (Lease, error)
}

type ReadingStore interface {
	InsertReading(ctx context.Context, r ConsumptionReading) error
	GetReading(ctx context.Context, id ReadingID) (ConsumptionReading, error)
	UpdateReading(ctx context.Context, r ConsumptionReading) error
	DeleteReading(ctx context.Context, id ReadingID) error

	// ListReadings returns the room's readings, in any status, whose period
	// lies inside window.
	ListReadings(ctx context.Context, room RoomID, window Period) ([]ConsumptionReading, error)

	// ClaimReading moves a Recorded reading to Billed under invoice.
	ClaimReading(ctx context.Context, id ReadingID, invoice InvoiceID) error

	// ReleaseReadings returns every reading claimed by invoice to Recorded.
	ReleaseReadings(ctx context.Context, invoice InvoiceID) error
}

// ServiceReferences counts what points at a service definition.
type ServiceReferences struct {
	Registrations int
	UsageRecords  int
	LineItems     int
}

func (r ServiceReferences) Total() int { return r.Registrations + r.UsageRecords + r.LineItems }

type ServiceStore interface {
	// SaveService inserts or replaces the definition.
	SaveService(ctx context.Context, s ServiceDefinition) error
	GetService(ctx context.Context, id ServiceID) (ServiceDefinition, error)
	DeleteService(ctx context.Context, id ServiceID) error
	CountServiceReferences(ctx context.Context, id ServiceID) (ServiceReferences, error)

	InsertRegistration(ctx context.Context, r ServiceRegistration) error
	ListRegistrations(ctx context.Context, lease LeaseID) ([]ServiceRegistration, error)

	InsertUsage(ctx context.Context, u ServiceUsageRecord) error
	GetUsage(ctx context.Context, id UsageRecordID) (ServiceUsageRecord, error)

	// ListUnbilledUsage returns the room's unclaimed usage dated inside p.
	ListUnbilledUsage(ctx context.Context, room RoomID, p Period) ([]ServiceUsageRecord, error)

	// ClaimUsage attaches an unclaimed usage record to invoice and stores
	// the price it was billed at.
	ClaimUsage(ctx context.Context, id UsageRecordID, invoice InvoiceID, unitPrice, amount decimal.Decimal) error

	// ReleaseUsage detaches every usage record claimed by invoice.
	ReleaseUsage(ctx context.Context, invoice InvoiceID) error
}

type InvoiceStore interface {
	// InsertInvoice stores the invoice and its line items. A second
	// non-void invoice for the same lease and period fails with
	// ConflictError{INVOICE_EXISTS}.
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	ListInvoices(ctx context.Context, lease LeaseID) ([]Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id InvoiceID, status InvoiceStatus, voidedAt *time.Time, reason string) error
}

type PaymentStore interface {
	AppendPayment(ctx context.Context, p Payment) error
	// ListPayments returns the invoice's payments in recording order.
	ListPayments(ctx context.Context, invoice InvoiceID) ([]Payment, error)
}

type Store interface {
	PriceStore
	LeaseStore
	ReadingStore
	ServiceStore
	InvoiceStore
	PaymentStore
}

// TxStore runs fn atomically. If fn returns an error nothing it wrote is
// kept. The Store handed to fn must be used for every read and write
// inside the transaction.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
