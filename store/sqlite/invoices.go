package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// INVOICE STORE (billing.InvoiceStore interface)
// =============================================================================

const invoiceColumns = `id, lease_id, period_start, period_end, due_date, total_due, status,
	created_at, voided_at, void_reason`

const lineItemColumns = `id, invoice_id, position, kind, description, quantity, unit_price, amount,
	price_point_id, price_scope, price_as_of, reading_id, usage_id, service_id`

// InsertInvoice writes the header and line items. The partial unique index
// on (lease_id, period_start, period_end) rejects a second live invoice.
func (c *conn) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	var voidedAt sql.NullString
	if inv.VoidedAt != nil {
		voidedAt = sql.NullString{String: formatTime(*inv.VoidedAt), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.LeaseID, inv.Period.Start.String(), inv.Period.End.String(),
		inv.DueDate.String(), inv.TotalDue.String(), inv.Status, formatTime(inv.CreatedAt),
		voidedAt, inv.VoidReason,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ConflictError{
				Code:    billing.CodeInvoiceExists,
				Message: fmt.Sprintf("lease %s already has an invoice for %s", inv.LeaseID, inv.Period),
			}
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, li := range inv.LineItems {
		var pricePointID sql.NullInt64
		if li.PricePointID != nil {
			pricePointID = sql.NullInt64{Int64: int64(*li.PricePointID), Valid: true}
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO invoice_line_items (`+lineItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			li.ID, inv.ID, li.Position, li.Kind, li.Description,
			li.Quantity.String(), li.UnitPrice.String(), li.Amount.String(),
			pricePointID, nullString(li.PriceScope), nullDate(li.PriceAsOf),
			nullString(string(li.ReadingID)), nullString(string(li.UsageRecordID)),
			nullString(string(li.ServiceID)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert line item %d: %w", li.Position, err)
		}
	}
	return nil
}

func (c *conn) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return billing.Invoice{}, notFoundOr(err, "invoice", id)
	}
	if inv.LineItems, err = c.lineItems(ctx, id); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func (c *conn) ListInvoices(ctx context.Context, lease billing.LeaseID) ([]billing.Invoice, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE lease_id = ?
		ORDER BY period_start, rowid`, lease)
	if err != nil {
		return nil, err
	}
	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Line items are loaded after the cursor is closed; the pool has one connection.
	for i := range out {
		if out[i].LineItems, err = c.lineItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *conn) UpdateInvoiceStatus(ctx context.Context, id billing.InvoiceID, status billing.InvoiceStatus, voidedAt *time.Time, reason string) error {
	var (
		res sql.Result
		err error
	)
	if voidedAt != nil {
		res, err = c.q.ExecContext(ctx,
			`UPDATE invoices SET status = ?, voided_at = ?, void_reason = ? WHERE id = ?`,
			status, formatTime(*voidedAt), reason, id)
	} else {
		res, err = c.q.ExecContext(ctx, `UPDATE invoices SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return affectedOne(res, "invoice", id)
}

func (c *conn) lineItems(ctx context.Context, invoice billing.InvoiceID) ([]billing.InvoiceLineItem, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+lineItemColumns+` FROM invoice_line_items
		WHERE invoice_id = ?
		ORDER BY position`, invoice)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.InvoiceLineItem
	for rows.Next() {
		var (
			li                          billing.InvoiceLineItem
			qty, price, amount          string
			pricePointID                sql.NullInt64
			scope, asOf, reading, usage sql.NullString
			service                     sql.NullString
		)
		err := rows.Scan(&li.ID, &li.InvoiceID, &li.Position, &li.Kind, &li.Description,
			&qty, &price, &amount, &pricePointID, &scope, &asOf, &reading, &usage, &service)
		if err != nil {
			return nil, err
		}
		var d decoder
		li.Quantity = d.decimal(qty)
		li.UnitPrice = d.decimal(price)
		li.Amount = d.decimal(amount)
		if pricePointID.Valid {
			id := billing.PricePointID(pricePointID.Int64)
			li.PricePointID = &id
		}
		li.PriceScope = scope.String
		li.PriceAsOf = d.nullDate(asOf)
		li.ReadingID = billing.ReadingID(reading.String)
		li.UsageRecordID = billing.UsageRecordID(usage.String)
		li.ServiceID = billing.ServiceID(service.String)
		if d.err != nil {
			return nil, d.err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func scanInvoice(s scanner) (billing.Invoice, error) {
	var (
		inv                          billing.Invoice
		start, end, due, total, made string
		voidedAt                     sql.NullString
	)
	err := s.Scan(&inv.ID, &inv.LeaseID, &start, &end, &due, &total, &inv.Status,
		&made, &voidedAt, &inv.VoidReason)
	if err != nil {
		return inv, err
	}
	var d decoder
	inv.Period = billing.Period{Start: d.date(start), End: d.date(end)}
	inv.DueDate = d.date(due)
	inv.TotalDue = d.decimal(total)
	inv.CreatedAt = d.time(made)
	inv.VoidedAt = d.nullTime(voidedAt)
	return inv, d.err
}

// =============================================================================
// PAYMENT STORE (billing.PaymentStore interface)
// =============================================================================

func (c *conn) AppendPayment(ctx context.Context, p billing.Payment) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, external_ref, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.InvoiceID, p.Amount.String(), p.Method, p.ExternalRef, formatTime(p.RecordedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "invoice", ID: string(p.InvoiceID)}
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (c *conn) ListPayments(ctx context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, invoice_id, amount, method, external_ref, recorded_at
		FROM payments WHERE invoice_id = ?
		ORDER BY seq`, invoice)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		var (
			p                  billing.Payment
			amount, recordedAt string
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &amount, &p.Method, &p.ExternalRef, &recordedAt); err != nil {
			return nil, err
		}
		var d decoder
		p.Amount = d.decimal(amount)
		p.RecordedAt = d.time(recordedAt)
		if d.err != nil {
			return nil, d.err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
