/*
payment.go - Payment ledger and invoice status

PURPOSE:
  Records payments against invoices and derives each invoice's status
  from its payments. Payments are append-only: a wrong payment is fixed
  by voiding the invoice before anything is paid, never by editing.

STATUS DERIVATION (first match wins):
  Void          invoice was voided
  Paid          paid >= totalDue
  PartiallyPaid paid > 0
  Overdue       today > dueDate
  Unpaid        otherwise

  Overdue depends on the clock, so the status column in storage is only a
  cache refreshed on each payment. Reads always derive it again.

INVARIANTS:
  - sum(payments) never exceeds totalDue; overpayment is rejected
  - status only moves forward in Unpaid -> PartiallyPaid -> Paid

SEE ALSO:
  - invoice.go: Where invoices come from
*/
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DeriveStatus computes the status of inv on today.
func DeriveStatus(inv Invoice, payments []Payment, today Date) InvoiceStatus {
	paid := TotalPaid(payments)
	switch {
	case inv.IsVoid():
		return InvoiceVoid
	case paid.GreaterThanOrEqual(inv.TotalDue):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartiallyPaid
	case today.After(inv.DueDate):
		return InvoiceOverdue
	default:
		return InvoiceUnpaid
	}
}

func TotalPaid(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Statement is an invoice with its payments and derived figures.
type Statement struct {
	Invoice    Invoice
	Payments   []Payment
	PaidTotal  decimal.Decimal
	BalanceDue decimal.Decimal
	Status     InvoiceStatus
}

type PaymentInput struct {
	InvoiceID   InvoiceID
	Amount      decimal.Decimal
	Method      PaymentMethod
	ExternalRef string
}

type PaymentLedger struct {
	store    TxStore
	rounding Rounding

	Clock  Clock
	Logger *zap.Logger
	NewID  func() string
}

func NewPaymentLedger(store TxStore, rounding Rounding) *PaymentLedger {
	return &PaymentLedger{
		store:    store,
		rounding: rounding,
		Clock:    SystemClock,
		Logger:   zap.NewNop(),
		NewID:    uuid.NewString,
	}
}

// RecordPayment appends a payment and returns it with the invoice's new status.
func (l *PaymentLedger) RecordPayment(ctx context.Context, in PaymentInput) (Payment, InvoiceStatus, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, "", &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !l.rounding.IsRounded(in.Amount) {
		return Payment{}, "", &ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must have at most %d decimal places", l.rounding.Places),
		}
	}
	method, err := ParsePaymentMethod(string(in.Method))
	if err != nil {
		return Payment{}, "", err
	}

	var (
		pay    Payment
		status InvoiceStatus
	)
	err = l.store.WithTx(ctx, func(s Store) error {
		inv, err := s.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if inv.IsVoid() {
			return &ConflictError{Code: CodeInvoiceVoid, Message: fmt.Sprintf("invoice %s is void", inv.ID)}
		}
		payments, err := s.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		paid := TotalPaid(payments)
		if paid.Add(in.Amount).GreaterThan(inv.TotalDue) {
			return &OverpaymentError{InvoiceID: inv.ID, TotalDue: inv.TotalDue, Paid: paid, Attempted: in.Amount}
		}
		pay = Payment{
			ID:          PaymentID(l.NewID()),
			InvoiceID:   inv.ID,
			Amount:      in.Amount,
			Method:      method,
			ExternalRef: in.ExternalRef,
			RecordedAt:  l.Clock.Now(),
		}
		if err := s.AppendPayment(ctx, pay); err != nil {
			return err
		}
		status = DeriveStatus(inv, append(payments, pay), l.Clock.Today())
		return s.UpdateInvoiceStatus(ctx, inv.ID, status, nil, "")
	})
	if err != nil {
		l.Logger.Warn("payment rejected",
			zap.String("invoice_id", string(in.InvoiceID)),
			zap.String("amount", in.Amount.String()),
			zap.String("code", Code(err)),
			zap.Error(err))
		return Payment{}, "", err
	}
	l.Logger.Info("payment recorded",
		zap.String("invoice_id", string(pay.InvoiceID)),
		zap.String("payment_id", string(pay.ID)),
		zap.String("amount", pay.Amount.String()),
		zap.String("status", string(status)))
	return pay, status, nil
}

// Status returns the derived status of the invoice as of today.
func (l *PaymentLedger) Status(ctx context.Context, id InvoiceID) (InvoiceStatus, error) {
	st, err := l.Statement(ctx, id)
	if err != nil {
		return "", err
	}
	return st.Status, nil
}

func (l *PaymentLedger) Statement(ctx context.Context, id InvoiceID) (Statement, error) {
	inv, err := l.store.GetInvoice(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	return l.statementOf(ctx, l.store, inv)
}

// Statements returns the statements of every invoice of a lease.
func (l *PaymentLedger) Statements(ctx context.Context, lease LeaseID) ([]Statement, error) {
	if _, err := l.store.GetLease(ctx, lease); err != nil {
		return nil, err
	}
	invoices, err := l.store.ListInvoices(ctx, lease)
	if err != nil {
		return nil, err
	}
	out := make([]Statement, 0, len(invoices))
	for _, inv := range invoices {
		st, err := l.statementOf(ctx, l.store, inv)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (l *PaymentLedger) statementOf(ctx context.Context, s Store, inv Invoice) (Statement, error) {
	payments, err := s.ListPayments(ctx, inv.ID)
	if err != nil {
		return Statement{}, err
	}
	paid := TotalPaid(payments)
	return Statement{
		Invoice:    inv,
		Payments:   payments,
		PaidTotal:  paid,
		BalanceDue: inv.TotalDue.Sub(paid),
		Status:     DeriveStatus(inv, payments, l.Clock.Today()),
	}, nil
}

// VoidInvoice voids an unpaid invoice and releases the readings and usage
// records it claimed, so the period can be billed again.
func (l *PaymentLedger) VoidInvoice(ctx context.Context, id InvoiceID, reason string) (Invoice, error) {
	var inv Invoice
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		inv, err = s.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.IsVoid() {
			return &ConflictError{Code: CodeInvoiceVoid, Message: fmt.Sprintf("invoice %s is already void", id)}
		}
		payments, err := s.ListPayments(ctx, id)
		if err != nil {
			return err
		}
		if len(payments) > 0 {
			return &ConflictError{
				Code:    CodeInvoiceHasPayments,
				Message: fmt.Sprintf("invoice %s has %d payments", id, len(payments)),
			}
		}
		now := l.Clock.Now()
		if err := s.UpdateInvoiceStatus(ctx, id, InvoiceVoid, &now, reason); err != nil {
			return err
		}
		if err := s.ReleaseReadings(ctx, id); err != nil {
			return err
		}
		if err := s.ReleaseUsage(ctx, id); err != nil {
			return err
		}
		inv.Status, inv.VoidedAt, inv.VoidReason = InvoiceVoid, &now, reason
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	l.Logger.Info("invoice voided", zap.String("invoice_id", string(id)), zap.String("reason", reason))
	return inv, nil
}
