/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error carries a machine-readable code so the API can
  map it to a response without string matching.

ERROR CATEGORIES:
  1. Validation errors - Malformed input (400)
  2. Lookup errors - Unknown ids (404)
  3. Business rule errors - Missing price, inactive lease, duplicate reading (422)
  4. Guard errors - Mutation of referenced or billed history (400)
  5. Conflicts - Invoice already built, void invoice, concurrent claim (409)

USAGE:
  if errors.Is(err, billing.ErrMissingPrice) {
      var mp *billing.MissingPriceError
      errors.As(err, &mp)
  }
  code := billing.Code(err) // "MISSING_PRICE"

SEE ALSO:
  - api/errors.go: Maps codes to HTTP status
  - guard.go: Produces ReferenceInUseError
*/
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CODES
// =============================================================================

const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeMissingPrice           = "MISSING_PRICE"
	CodeInactiveLease          = "INACTIVE_LEASE"
	CodeDuplicateReading       = "DUPLICATE_READING"
	CodePriceInUse             = "PRICE_IN_USE"
	CodeServiceInUse           = "SERVICE_IN_USE"
	CodeReadingBilled          = "READING_BILLED"
	CodeUsageBilled            = "USAGE_BILLED"
	CodeOverpayment            = "OVERPAYMENT"
	CodeInvoiceExists          = "INVOICE_EXISTS"
	CodeInvoiceVoid            = "INVOICE_VOID"
	CodeInvoiceHasPayments     = "INVOICE_HAS_PAYMENTS"
	CodeRetroactivePrice       = "RETROACTIVE_PRICE"
	CodeLeaseTerminated        = "LEASE_TERMINATED"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInternal               = "INTERNAL"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrMissingPrice is returned when no price point is effective on the
	// as-of date. A missing price is never treated as zero.
	ErrMissingPrice = errors.New("no effective price")

	ErrInactiveLease = errors.New("lease not active for period")

	// ErrDuplicateReading flags two recorded readings for the same room,
	// cost type and period. It is a data problem the landlord has to fix.
	ErrDuplicateReading = errors.New("duplicate consumption reading")

	// ErrReferenceInUse is returned by the guard when a mutation would
	// rewrite history that an invoice depends on.
	ErrReferenceInUse = errors.New("referenced by billed history")

	ErrOverpayment = errors.New("payment exceeds balance due")

	ErrConflict = errors.New("conflict")

	// ErrConcurrentModification is returned when a claim on a reading or
	// usage record loses a race with another invoice build.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// coded is implemented by every structured error in this file.
type coded interface {
	ErrorCode() string
}

// Code returns the machine code for err, or INTERNAL when err carries none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConcurrentModification):
		return CodeConcurrentModification
	}
	return CodeInternal
}

// =============================================================================
// STRUCTURED ERRORS - Use with errors.As()
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}
func (e *ValidationError) Unwrap() error     { return ErrValidation }
func (e *ValidationError) ErrorCode() string { return CodeValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string     { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Unwrap() error     { return ErrNotFound }
func (e *NotFoundError) ErrorCode() string { return CodeNotFound }

type MissingPriceError struct {
	Scope PriceScope
	AsOf  Date
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("no price for %s effective on or before %s", e.Scope.Key(), e.AsOf)
}
func (e *MissingPriceError) Unwrap() error     { return ErrMissingPrice }
func (e *MissingPriceError) ErrorCode() string { return CodeMissingPrice }

type InactiveLeaseError struct {
	LeaseID LeaseID
	Status  LeaseStatus
	Period  Period
}

func (e *InactiveLeaseError) Error() string {
	return fmt.Sprintf("lease %s (%s) is not active during %s", e.LeaseID, e.Status, e.Period)
}
func (e *InactiveLeaseError) Unwrap() error     { return ErrInactiveLease }
func (e *InactiveLeaseError) ErrorCode() string { return CodeInactiveLease }

type DuplicateReadingError struct {
	RoomID     RoomID
	CostType   CostType
	Period     Period
	ReadingIDs []ReadingID
}

func (e *DuplicateReadingError) Error() string {
	ids := make([]string, len(e.ReadingIDs))
	for i, id := range e.ReadingIDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("room %s has %d %s readings for %s: %s",
		e.RoomID, len(e.ReadingIDs), e.CostType, e.Period, strings.Join(ids, ", "))
}
func (e *DuplicateReadingError) Unwrap() error     { return ErrDuplicateReading }
func (e *DuplicateReadingError) ErrorCode() string { return CodeDuplicateReading }

// ReferenceInUseError names the entity the guard protected and why.
type ReferenceInUseError struct {
	Entity     EntityRef
	Reason     string
	References int
}

func (e *ReferenceInUseError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity.Kind, e.Entity.ID, e.Reason)
}
func (e *ReferenceInUseError) Unwrap() error { return ErrReferenceInUse }

func (e *ReferenceInUseError) ErrorCode() string {
	switch e.Entity.Kind {
	case EntityPricePoint:
		return CodePriceInUse
	case EntityService:
		return CodeServiceInUse
	case EntityReading:
		return CodeReadingBilled
	default:
		return CodeUsageBilled
	}
}

type OverpaymentError struct {
	InvoiceID InvoiceID
	TotalDue  decimal.Decimal
	Paid      decimal.Decimal
	Attempted decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s on invoice %s exceeds balance due %s",
		e.Attempted, e.InvoiceID, e.TotalDue.Sub(e.Paid))
}
func (e *OverpaymentError) Unwrap() error     { return ErrOverpayment }
func (e *OverpaymentError) ErrorCode() string { return CodeOverpayment }

// ConflictError is a state conflict with a specific code, e.g. INVOICE_EXISTS.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string     { return e.Message }
func (e *ConflictError) Unwrap() error     { return ErrConflict }
func (e *ConflictError) ErrorCode() string { return e.Code }

// =============================================================================
// HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports whether err was caused by the request rather than
// by the system.
func IsClientError(err error) bool {
	return Code(err) != CodeInternal
}
