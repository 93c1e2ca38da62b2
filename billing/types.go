/*
Package billing provides the effective-dated pricing and invoice engine.

PURPOSE:
  This package turns rent, metered utilities and add-on services into
  invoices for a billing period, and reconciles those invoices against
  the payments recorded for them. Everything that affects money lives
  here: price resolution, usage aggregation, invoice assembly, the
  payment ledger and the guard that keeps billed history immutable.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe IDs so a LeaseID never ends up where a RoomID belongs
  - Closed enums: CostType, ServiceKind, LeaseStatus, InvoiceStatus, ...
  - Entities: Property, Room, Lease, PricePoint, ConsumptionReading,
    ServiceDefinition, ServiceRegistration, ServiceUsageRecord,
    Invoice, InvoiceLineItem, Payment

DESIGN PRINCIPLES:
  1. Precision: Every amount is a decimal.Decimal, never a float
  2. Snapshots: A line item keeps the unit price it was billed at
  3. Append-only: Price points and payments are inserted, never updated

SEE ALSO:
  - pricing.go: Effective-dated price resolution
  - invoice.go: Atomic invoice assembly
  - payment.go: Payment ledger and derived status
*/
package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	LandlordID     string
	PropertyID     string
	RoomID         string
	LeaseID        string
	ServiceID      string
	RegistrationID string
	ReadingID      string
	UsageRecordID  string
	InvoiceID      string
	LineItemID     string
	PaymentID      string
)

// PricePointID is assigned by the store in insertion order. It breaks ties
// between price points that share an effective date.
type PricePointID int64

// =============================================================================
// ENUMS
// =============================================================================

type CostType string

const (
	CostElectricity CostType = "electricity"
	CostWater       CostType = "water"
	CostService     CostType = "service"
)

func ParseCostType(s string) (CostType, error) {
	switch ct := CostType(strings.ToLower(strings.TrimSpace(s))); ct {
	case CostElectricity, CostWater, CostService:
		return ct, nil
	}
	return "", &ValidationError{Field: "type", Message: "unknown cost type " + s}
}

// IsUtility reports whether the cost type is metered per property.
func (c CostType) IsUtility() bool { return c == CostElectricity || c == CostWater }

type ServiceKind string

const (
	ServiceFixedMonthly ServiceKind = "fixed_monthly"
	ServicePerUsage     ServiceKind = "per_usage"
	ServiceIncident     ServiceKind = "incident"
)

func ParseServiceKind(s string) (ServiceKind, error) {
	switch k := ServiceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ServiceFixedMonthly, ServicePerUsage, ServiceIncident:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Message: "unknown service kind " + s}
}

// LineKind maps a service kind to the line item kind it bills as.
func (k ServiceKind) LineKind() LineItemKind {
	switch k {
	case ServiceFixedMonthly:
		return LineFixedService
	case ServicePerUsage:
		return LineUsageService
	default:
		return LineOther
	}
}

type LeaseStatus string

const (
	LeaseNew        LeaseStatus = "new"
	LeaseActive     LeaseStatus = "active"
	LeaseExpired    LeaseStatus = "expired"
	LeaseTerminated LeaseStatus = "terminated"
)

func ParseLeaseStatus(s string) (LeaseStatus, error) {
	switch st := LeaseStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case LeaseNew, LeaseActive, LeaseExpired, LeaseTerminated:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown lease status " + s}
}

type PaymentTiming string

const (
	PayAtPeriodStart PaymentTiming = "period_start"
	PayAtPeriodEnd   PaymentTiming = "period_end"
)

func ParsePaymentTiming(s string) (PaymentTiming, error) {
	switch pt := PaymentTiming(strings.ToLower(strings.TrimSpace(s))); pt {
	case "":
		return PayAtPeriodStart, nil
	case PayAtPeriodStart, PayAtPeriodEnd:
		return pt, nil
	}
	return "", &ValidationError{Field: "payment_timing", Message: "unknown payment timing " + s}
}

type ReadingStatus string

const (
	ReadingRecorded ReadingStatus = "recorded"
	ReadingBilled   ReadingStatus = "billed"
	ReadingVoid     ReadingStatus = "void"
)

type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceVoid          InvoiceStatus = "void"
)

type LineItemKind string

const (
	LineRent         LineItemKind = "rent"
	LineElectricity  LineItemKind = "electricity"
	LineWater        LineItemKind = "water"
	LineFixedService LineItemKind = "fixed_service"
	LineUsageService LineItemKind = "usage_service"
	LineOther        LineItemKind = "other"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodEWallet      PaymentMethod = "e_wallet"
	MethodOther        PaymentMethod = "other"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodEWallet, MethodOther:
		return m, nil
	}
	return "", &ValidationError{Field: "method", Message: "unknown payment method " + s}
}

// =============================================================================
// COLLABORATOR RECORDS
// =============================================================================

type Property struct {
	ID         PropertyID
	LandlordID LandlordID
	Name       string
	CreatedAt  time.Time
}

type Room struct {
	ID         RoomID
	PropertyID PropertyID
	Name       string
	CreatedAt  time.Time
}

// Lease binds a tenant to a room. Rent, cadence and due terms are read
// from here when an invoice is built.
type Lease struct {
	ID                  LeaseID
	RoomID              RoomID
	PropertyID          PropertyID
	TenantName          string
	RentAmount          decimal.Decimal
	BillingPeriodMonths int
	PaymentTiming       PaymentTiming
	DueOffsetDays       int
	StartDate           Date
	EndDate             *Date
	Status              LeaseStatus
	TerminatedAt        *Date
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// =============================================================================
// PRICES
// =============================================================================

// PriceScope identifies one price history: a utility of a property, or a
// service definition.
type PriceScope struct {
	CostType   CostType
	PropertyID PropertyID
	ServiceID  ServiceID
}

func UtilityScope(property PropertyID, ct CostType) PriceScope {
	return PriceScope{CostType: ct, PropertyID: property}
}

func ServiceScope(service ServiceID) PriceScope {
	return PriceScope{CostType: CostService, ServiceID: service}
}

func (s PriceScope) Validate() error {
	switch {
	case s.CostType.IsUtility():
		if s.PropertyID == "" {
			return &ValidationError{Field: "property_id", Message: "required for utility prices"}
		}
		if s.ServiceID != "" {
			return &ValidationError{Field: "service_id", Message: "not allowed for utility prices"}
		}
	case s.CostType == CostService:
		if s.ServiceID == "" {
			return &ValidationError{Field: "service_id", Message: "required for service prices"}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown cost type " + string(s.CostType)}
	}
	return nil
}

// Key is the stable string form of the scope, used as a storage key.
func (s PriceScope) Key() string {
	if s.CostType == CostService {
		return "service:" + string(s.ServiceID)
	}
	return "property:" + string(s.PropertyID) + ":" + string(s.CostType)
}

func (s PriceScope) String() string { return s.Key() }

// PricePoint is one entry in a price history. Never updated after insert.
type PricePoint struct {
	ID            PricePointID
	Scope         PriceScope
	UnitPrice     decimal.Decimal
	EffectiveDate Date
	CreatedAt     time.Time
}

// =============================================================================
// CONSUMPTION AND SERVICES
// =============================================================================

type ConsumptionReading struct {
	ID            ReadingID
	RoomID        RoomID
	CostType      CostType
	Period        Period
	PreviousIndex decimal.Decimal
	CurrentIndex  decimal.Decimal
	RecordedAt    time.Time
	Status        ReadingStatus
	InvoiceID     InvoiceID
	CreatedAt     time.Time
}

func (r ConsumptionReading) Consumption() decimal.Decimal {
	return r.CurrentIndex.Sub(r.PreviousIndex)
}

type ServiceDefinition struct {
	ID         ServiceID
	LandlordID LandlordID
	PropertyID PropertyID // empty for landlord-wide services
	Name       string
	Kind       ServiceKind
	Unit       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ServiceRegistration struct {
	ID        RegistrationID
	LeaseID   LeaseID
	ServiceID ServiceID
	StartDate Date
	EndDate   *Date
	CreatedAt time.Time
}

// ActiveDuring reports whether the registration overlaps the period.
func (r ServiceRegistration) ActiveDuring(p Period) bool {
	return p.Overlaps(r.StartDate, r.EndDate)
}

type ServiceUsageRecord struct {
	ID                UsageRecordID
	ServiceID         ServiceID
	RoomID            RoomID
	Date              Date
	Quantity          decimal.Decimal
	ResolvedUnitPrice decimal.Decimal
	Amount            decimal.Decimal
	InvoiceID         InvoiceID
	Note              string
	CreatedAt         time.Time
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

type Invoice struct {
	ID         InvoiceID
	LeaseID    LeaseID
	Period     Period
	DueDate    Date
	LineItems  []InvoiceLineItem
	TotalDue   decimal.Decimal
	Status     InvoiceStatus // cached; DeriveStatus is authoritative
	CreatedAt  time.Time
	VoidedAt   *time.Time
	VoidReason string
}

func (inv Invoice) IsVoid() bool { return inv.VoidedAt != nil || inv.Status == InvoiceVoid }

// LineTotal sums the amounts of the line items.
func (inv Invoice) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range inv.LineItems {
		total = total.Add(li.Amount)
	}
	return total
}

// InvoiceLineItem snapshots what was billed. PricePointID, PriceScope and
// PriceAsOf are set on priced lines so later price edits can be checked
// against billed history.
type InvoiceLineItem struct {
	ID            LineItemID
	InvoiceID     InvoiceID
	Position      int
	Kind          LineItemKind
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	Amount        decimal.Decimal
	PricePointID  *PricePointID
	PriceScope    string
	PriceAsOf     *Date
	ReadingID     ReadingID
	UsageRecordID UsageRecordID
	ServiceID     ServiceID
}

type Payment struct {
	ID          PaymentID
	InvoiceID   InvoiceID
	Amount      decimal.Decimal
	Method      PaymentMethod
	ExternalRef string
	RecordedAt  time.Time
}
