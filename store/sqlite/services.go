package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// SERVICE STORE (billing.ServiceStore interface)
// =============================================================================

func (c *conn) SaveService(ctx context.Context, s billing.ServiceDefinition) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO services (id, landlord_id, property_id, name, kind, unit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			unit = excluded.unit,
			updated_at = excluded.updated_at`,
		s.ID, s.LandlordID, nullString(string(s.PropertyID)), s.Name, s.Kind, s.Unit,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (c *conn) GetService(ctx context.Context, id billing.ServiceID) (billing.ServiceDefinition, error) {
	var (
		s                billing.ServiceDefinition
		propertyID       sql.NullString
		created, updated string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, landlord_id, property_id, name, kind, unit, created_at, updated_at
		FROM services WHERE id = ?`, id,
	).Scan(&s.ID, &s.LandlordID, &propertyID, &s.Name, &s.Kind, &s.Unit, &created, &updated)
	if err != nil {
		return billing.ServiceDefinition{}, notFoundOr(err, "service", id)
	}
	var d decoder
	s.PropertyID = billing.PropertyID(propertyID.String)
	s.CreatedAt = d.time(created)
	s.UpdatedAt = d.time(updated)
	return s, d.err
}

func (c *conn) DeleteService(ctx context.Context, id billing.ServiceID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.ReferenceInUseError{Entity: billing.ServiceRef(id), Reason: "still referenced"}
		}
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return affectedOne(res, "service", id)
}

func (c *conn) CountServiceReferences(ctx context.Context, id billing.ServiceID) (billing.ServiceReferences, error) {
	var refs billing.ServiceReferences
	err := c.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM service_registrations WHERE service_id = ?),
			(SELECT COUNT(*) FROM usage_records WHERE service_id = ?),
			(SELECT COUNT(*) FROM invoice_line_items WHERE service_id = ?)`,
		id, id, id,
	).Scan(&refs.Registrations, &refs.UsageRecords, &refs.LineItems)
	return refs, err
}

func (c *conn) InsertRegistration(ctx context.Context, r billing.ServiceRegistration) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO service_registrations (id, lease_id, service_id, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.LeaseID, r.ServiceID, r.StartDate.String(), nullDate(r.EndDate), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

func (c *conn) ListRegistrations(ctx context.Context, lease billing.LeaseID) ([]billing.ServiceRegistration, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, lease_id, service_id, start_date, end_date, created_at
		FROM service_registrations WHERE lease_id = ?
		ORDER BY rowid`, lease)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.ServiceRegistration
	for rows.Next() {
		var (
			r              billing.ServiceRegistration
			start, created string
			end            sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.LeaseID, &r.ServiceID, &start, &end, &created); err != nil {
			return nil, err
		}
		var d decoder
		r.StartDate = d.date(start)
		r.EndDate = d.nullDate(end)
		r.CreatedAt = d.time(created)
		if d.err != nil {
			return nil, d.err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const usageColumns = `id, service_id, room_id, usage_date, quantity, resolved_unit_price,
	amount, invoice_id, note, created_at`

func (c *conn) InsertUsage(ctx context.Context, u billing.ServiceUsageRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO usage_records (`+usageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.ServiceID, u.RoomID, u.Date.String(), u.Quantity.String(),
		u.ResolvedUnitPrice.String(), u.Amount.String(), nullString(string(u.InvoiceID)),
		u.Note, formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func (c *conn) GetUsage(ctx context.Context, id billing.UsageRecordID) (billing.ServiceUsageRecord, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE id = ?`, id)
	u, err := scanUsage(row)
	if err != nil {
		return billing.ServiceUsageRecord{}, notFoundOr(err, "usage record", id)
	}
	return u, nil
}

func (c *conn) ListUnbilledUsage(ctx context.Context, room billing.RoomID, p billing.Period) ([]billing.ServiceUsageRecord, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+usageColumns+` FROM usage_records
		WHERE room_id = ? AND invoice_id IS NULL AND usage_date >= ? AND usage_date < ?
		ORDER BY id`, room, p.Start.String(), p.End.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.ServiceUsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *conn) ClaimUsage(ctx context.Context, id billing.UsageRecordID, invoice billing.InvoiceID, unitPrice, amount decimal.Decimal) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE usage_records SET invoice_id = ?, resolved_unit_price = ?, amount = ?
		WHERE id = ? AND invoice_id IS NULL`,
		invoice, unitPrice.String(), amount.String(), id)
	if err != nil {
		return fmt.Errorf("failed to claim usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetUsage(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("claim usage %s: %w", id, billing.ErrConcurrentModification)
	}

	_, err = c.q.ExecContext(ctx,
		`INSERT INTO usage_claims (usage_id, invoice_id, claimed_at) VALUES (?, ?, ?)`,
		id, invoice, formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("claim usage %s: %w", id, billing.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to record usage claim: %w", err)
	}
	return nil
}

func (c *conn) ReleaseUsage(ctx context.Context, invoice billing.InvoiceID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM usage_claims WHERE invoice_id = ?`, invoice); err != nil {
		return fmt.Errorf("failed to release usage claims: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `
		UPDATE usage_records SET invoice_id = NULL, resolved_unit_price = '0', amount = '0'
		WHERE invoice_id = ?`, invoice); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

func scanUsage(s scanner) (billing.ServiceUsageRecord, error) {
	var (
		u                        billing.ServiceUsageRecord
		date, qty, price, amount string
		created                  string
		invoiceID                sql.NullString
	)
	err := s.Scan(&u.ID, &u.ServiceID, &u.RoomID, &date, &qty, &price, &amount,
		&invoiceID, &u.Note, &created)
	if err != nil {
		return u, err
	}
	var d decoder
	u.Date = d.date(date)
	u.Quantity = d.decimal(qty)
	u.ResolvedUnitPrice = d.decimal(price)
	u.Amount = d.decimal(amount)
	u.InvoiceID = billing.InvoiceID(invoiceID.String)
	u.CreatedAt = d.time(created)
	return u, d.err
}
