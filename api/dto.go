/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts, prices and meter indexes are decimal strings ("3250000",
  "1420.5"). Numbers are accepted on input. Dates are YYYY-MM-DD,
  timestamps RFC 3339.

VALIDATION:
  Request types carry validator/v10 tags for shape (required, enums,
  date formats). Business rules (non-negative prices, index order,
  overpayment) are checked by the billing package.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// PROPERTIES, ROOMS, LEASES
// =============================================================================

type PropertyDTO struct {
	ID         string    `json:"id"`
	LandlordID string    `json:"landlord_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreatePropertyRequest. LandlordID is ignored when requests are
// authenticated; the caller owns what they create.
type CreatePropertyRequest struct {
	LandlordID string `json:"landlord_id"`
	Name       string `json:"name" validate:"required,max=200"`
}

type RoomDTO struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type LeaseDTO struct {
	ID                  string          `json:"id"`
	RoomID              string          `json:"room_id"`
	PropertyID          string          `json:"property_id"`
	TenantName          string          `json:"tenant_name"`
	RentAmount          decimal.Decimal `json:"rent_amount"`
	BillingPeriodMonths int             `json:"billing_period_months"`
	PaymentTiming       string          `json:"payment_timing"`
	DueOffsetDays       int             `json:"due_offset_days"`
	StartDate           billing.Date    `json:"start_date"`
	EndDate             *billing.Date   `json:"end_date,omitempty"`
	Status              string          `json:"status"`
	TerminatedAt        *billing.Date   `json:"terminated_at,omitempty"`
}

type CreateLeaseRequest struct {
	RoomID              string          `json:"room_id" validate:"required"`
	TenantName          string          `json:"tenant_name" validate:"required,max=200"`
	RentAmount          decimal.Decimal `json:"rent_amount"`
	BillingPeriodMonths int             `json:"billing_period_months" validate:"omitempty,min=1,max=12"`
	PaymentTiming       string          `json:"payment_timing" validate:"omitempty,oneof=period_start period_end"`
	DueOffsetDays       int             `json:"due_offset_days" validate:"min=0,max=90"`
	StartDate           string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate             string          `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

type LeaseStatusRequest struct {
	Status        string `json:"status" validate:"required,oneof=active expired terminated"`
	EffectiveDate string `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// PRICES
// =============================================================================

type PricePointDTO struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	PropertyID    string          `json:"property_id,omitempty"`
	ServiceID     string          `json:"service_id,omitempty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveDate billing.Date    `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ResolvedPriceDTO answers "what is the price on this date".
type ResolvedPriceDTO struct {
	AsOf  billing.Date  `json:"as_of"`
	Price PricePointDTO `json:"price"`
}

type PriceHistoryDTO struct {
	Scope  string          `json:"scope"`
	Prices []PricePointDTO `json:"prices"`
}

type AddPriceRequest struct {
	Type          string          `json:"type" validate:"required,oneof=electricity water service"`
	ServiceID     string          `json:"service_id" validate:"required_if=Type service"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveDate string          `json:"effective_date" validate:"required,datetime=2006-01-02"`
}

// =============================================================================
// SERVICES
// =============================================================================

type ServiceDTO struct {
	ID         string    `json:"id"`
	LandlordID string    `json:"landlord_id"`
	PropertyID string    `json:"property_id,omitempty"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Unit       string    `json:"unit,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateServiceRequest struct {
	LandlordID string `json:"landlord_id"`
	PropertyID string `json:"property_id"`
	Name       string `json:"name" validate:"required,max=200"`
	Kind       string `json:"kind" validate:"required,oneof=fixed_monthly per_usage incident"`
	Unit       string `json:"unit" validate:"max=50"`
}

type UpdateServiceRequest struct {
	Name *string `json:"name" validate:"omitempty,min=1,max=200"`
	Kind *string `json:"kind" validate:"omitempty,oneof=fixed_monthly per_usage incident"`
	Unit *string `json:"unit" validate:"omitempty,max=50"`
}

type RegistrationDTO struct {
	ID        string        `json:"id"`
	LeaseID   string        `json:"lease_id"`
	ServiceID string        `json:"service_id"`
	StartDate billing.Date  `json:"start_date"`
	EndDate   *billing.Date `json:"end_date,omitempty"`
}

type RegisterServiceRequest struct {
	ServiceID string `json:"service_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// READINGS AND USAGE
// =============================================================================

type ReadingDTO struct {
	ID            string          `json:"id"`
	RoomID        string          `json:"room_id"`
	Type          string          `json:"type"`
	PeriodStart   billing.Date    `json:"period_start"`
	PeriodEnd     billing.Date    `json:"period_end"`
	PreviousIndex decimal.Decimal `json:"previous_index"`
	CurrentIndex  decimal.Decimal `json:"current_index"`
	Consumption   decimal.Decimal `json:"consumption"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Status        string          `json:"status"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
}

type RecordReadingRequest struct {
	RoomID        string          `json:"room_id" validate:"required"`
	Type          string          `json:"type" validate:"required,oneof=electricity water"`
	PeriodStart   string          `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd     string          `json:"period_end" validate:"required,datetime=2006-01-02"`
	PreviousIndex decimal.Decimal `json:"previous_index"`
	CurrentIndex  decimal.Decimal `json:"current_index"`
	RecordedAt    *time.Time      `json:"recorded_at"`
}

type UpdateReadingRequest struct {
	PreviousIndex *decimal.Decimal `json:"previous_index"`
	CurrentIndex  *decimal.Decimal `json:"current_index"`
	RecordedAt    *time.Time       `json:"recorded_at"`
}

type UsageDTO struct {
	ID                string          `json:"id"`
	ServiceID         string          `json:"service_id"`
	RoomID            string          `json:"room_id"`
	Date              billing.Date    `json:"date"`
	Quantity          decimal.Decimal `json:"quantity"`
	ResolvedUnitPrice decimal.Decimal `json:"resolved_unit_price"`
	Amount            decimal.Decimal `json:"amount"`
	InvoiceID         string          `json:"invoice_id,omitempty"`
	Note              string          `json:"note,omitempty"`
}

type RecordUsageRequest struct {
	ServiceID string          `json:"service_id" validate:"required"`
	RoomID    string          `json:"room_id" validate:"required"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note" validate:"max=500"`
}

// =============================================================================
// INVOICES AND PAYMENTS
// =============================================================================

type LineItemDTO struct {
	ID           string          `json:"id"`
	Position     int             `json:"position"`
	Kind         string          `json:"kind"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Amount       decimal.Decimal `json:"amount"`
	PricePointID *int64          `json:"price_point_id,omitempty"`
	PriceAsOf    *billing.Date   `json:"price_as_of,omitempty"`
	ReadingID    string          `json:"reading_id,omitempty"`
	UsageID      string          `json:"usage_id,omitempty"`
	ServiceID    string          `json:"service_id,omitempty"`
}

type PaymentDTO struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	ExternalRef string          `json:"external_ref,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// InvoiceDTO carries the derived status and balance, never a stored one.
type InvoiceDTO struct {
	ID          string          `json:"id"`
	LeaseID     string          `json:"lease_id"`
	PeriodStart billing.Date    `json:"period_start"`
	PeriodEnd   billing.Date    `json:"period_end"`
	DueDate     billing.Date    `json:"due_date"`
	TotalDue    decimal.Decimal `json:"total_due"`
	PaidTotal   decimal.Decimal `json:"paid_total"`
	BalanceDue  decimal.Decimal `json:"balance_due"`
	Status      string          `json:"status"`
	LineItems   []LineItemDTO   `json:"line_items"`
	Payments    []PaymentDTO    `json:"payments"`
	CreatedAt   time.Time       `json:"created_at"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty"`
	VoidReason  string          `json:"void_reason,omitempty"`
}

// BuildInvoiceRequest. PeriodEnd defaults to the lease's billing cadence.
type BuildInvoiceRequest struct {
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
}

type VoidInvoiceRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type RecordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" validate:"required,oneof=cash bank_transfer card e_wallet other"`
	ExternalRef string          `json:"external_ref" validate:"max=200"`
}

type PaymentResultDTO struct {
	Payment    PaymentDTO      `json:"payment"`
	Status     string          `json:"status"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ScenarioResultDTO names what was seeded. Token is set when
// authentication is enabled, so the demo landlord can call the API.
type ScenarioResultDTO struct {
	Status     string   `json:"status"`
	Scenario   string   `json:"scenario"`
	LandlordID string   `json:"landlord_id"`
	PropertyID string   `json:"property_id"`
	LeaseIDs   []string `json:"lease_ids"`
	InvoiceIDs []string `json:"invoice_ids"`
	Token      string   `json:"token,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPropertyDTO(p billing.Property) PropertyDTO {
	return PropertyDTO{ID: string(p.ID), LandlordID: string(p.LandlordID), Name: p.Name, CreatedAt: p.CreatedAt}
}

func toRoomDTO(r billing.Room) RoomDTO {
	return RoomDTO{ID: string(r.ID), PropertyID: string(r.PropertyID), Name: r.Name, CreatedAt: r.CreatedAt}
}

func toLeaseDTO(l billing.Lease) LeaseDTO {
	return LeaseDTO{
		ID:                  string(l.ID),
		RoomID:              string(l.RoomID),
		PropertyID:          string(l.PropertyID),
		TenantName:          l.TenantName,
		RentAmount:          l.RentAmount,
		BillingPeriodMonths: l.BillingPeriodMonths,
		PaymentTiming:       string(l.PaymentTiming),
		DueOffsetDays:       l.DueOffsetDays,
		StartDate:           l.StartDate,
		EndDate:             l.EndDate,
		Status:              string(l.Status),
		TerminatedAt:        l.TerminatedAt,
	}
}

func toPricePointDTO(p billing.PricePoint) PricePointDTO {
	return PricePointDTO{
		ID:            int64(p.ID),
		Type:          string(p.Scope.CostType),
		PropertyID:    string(p.Scope.PropertyID),
		ServiceID:     string(p.Scope.ServiceID),
		UnitPrice:     p.UnitPrice,
		EffectiveDate: p.EffectiveDate,
		CreatedAt:     p.CreatedAt,
	}
}

func toPricePointDTOs(points []billing.PricePoint) []PricePointDTO {
	out := make([]PricePointDTO, len(points))
	for i, p := range points {
		out[i] = toPricePointDTO(p)
	}
	return out
}

func toServiceDTO(s billing.ServiceDefinition) ServiceDTO {
	return ServiceDTO{
		ID:         string(s.ID),
		LandlordID: string(s.LandlordID),
		PropertyID: string(s.PropertyID),
		Name:       s.Name,
		Kind:       string(s.Kind),
		Unit:       s.Unit,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toRegistrationDTO(r billing.ServiceRegistration) RegistrationDTO {
	return RegistrationDTO{
		ID:        string(r.ID),
		LeaseID:   string(r.LeaseID),
		ServiceID: string(r.ServiceID),
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}
}

func toReadingDTO(r billing.ConsumptionReading) ReadingDTO {
	return ReadingDTO{
		ID:            string(r.ID),
		RoomID:        string(r.RoomID),
		Type:          string(r.CostType),
		PeriodStart:   r.Period.Start,
		PeriodEnd:     r.Period.End,
		PreviousIndex: r.PreviousIndex,
		CurrentIndex:  r.CurrentIndex,
		Consumption:   r.Consumption(),
		RecordedAt:    r.RecordedAt,
		Status:        string(r.Status),
		InvoiceID:     string(r.InvoiceID),
	}
}

func toUsageDTO(u billing.ServiceUsageRecord) UsageDTO {
	return UsageDTO{
		ID:                string(u.ID),
		ServiceID:         string(u.ServiceID),
		RoomID:            string(u.RoomID),
		Date:              u.Date,
		Quantity:          u.Quantity,
		ResolvedUnitPrice: u.ResolvedUnitPrice,
		Amount:            u.Amount,
		InvoiceID:         string(u.InvoiceID),
		Note:              u.Note,
	}
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          string(p.ID),
		InvoiceID:   string(p.InvoiceID),
		Amount:      p.Amount,
		Method:      string(p.Method),
		ExternalRef: p.ExternalRef,
		RecordedAt:  p.RecordedAt,
	}
}

func toInvoiceDTO(st billing.Statement) InvoiceDTO {
	inv := st.Invoice
	dto := InvoiceDTO{
		ID:          string(inv.ID),
		LeaseID:     string(inv.LeaseID),
		PeriodStart: inv.Period.Start,
		PeriodEnd:   inv.Period.End,
		DueDate:     inv.DueDate,
		TotalDue:    inv.TotalDue,
		PaidTotal:   st.PaidTotal,
		BalanceDue:  st.BalanceDue,
		Status:      string(st.Status),
		LineItems:   make([]LineItemDTO, len(inv.LineItems)),
		Payments:    make([]PaymentDTO, len(st.Payments)),
		CreatedAt:   inv.CreatedAt,
		VoidedAt:    inv.VoidedAt,
		VoidReason:  inv.VoidReason,
	}
	for i, li := range inv.LineItems {
		item := LineItemDTO{
			ID:          string(li.ID),
			Position:    li.Position,
			Kind:        string(li.Kind),
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      li.Amount,
			PriceAsOf:   li.PriceAsOf,
			ReadingID:   string(li.ReadingID),
			UsageID:     string(li.UsageRecordID),
			ServiceID:   string(li.ServiceID),
		}
		if li.PricePointID != nil {
			id := int64(*li.PricePointID)
			item.PricePointID = &id
		}
		dto.LineItems[i] = item
	}
	for i, p := range st.Payments {
		dto.Payments[i] = toPaymentDTO(p)
	}
	return dto
}
