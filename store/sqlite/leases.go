package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// LEASE STORE (billing.LeaseStore interface)
// =============================================================================

func (c *conn) SaveProperty(ctx context.Context, p billing.Property) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO properties (id, landlord_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET landlord_id = excluded.landlord_id, name = excluded.name`,
		p.ID, p.LandlordID, p.Name, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

func (c *conn) GetProperty(ctx context.Context, id billing.PropertyID) (billing.Property, error) {
	var (
		p       billing.Property
		created string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, landlord_id, name, created_at FROM properties WHERE id = ?`, id,
	).Scan(&p.ID, &p.LandlordID, &p.Name, &created)
	if err != nil {
		return billing.Property{}, notFoundOr(err, "property", id)
	}
	var d decoder
	p.CreatedAt = d.time(created)
	return p, d.err
}

func (c *conn) SaveRoom(ctx context.Context, r billing.Room) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO rooms (id, property_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET property_id = excluded.property_id, name = excluded.name`,
		r.ID, r.PropertyID, r.Name, formatTime(r.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "property", ID: string(r.PropertyID)}
		}
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

func (c *conn) GetRoom(ctx context.Context, id billing.RoomID) (billing.Room, error) {
	var (
		r       billing.Room
		created string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, property_id, name, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.PropertyID, &r.Name, &created)
	if err != nil {
		return billing.Room{}, notFoundOr(err, "room", id)
	}
	var d decoder
	r.CreatedAt = d.time(created)
	return r, d.err
}

func (c *conn) SaveLease(ctx context.Context, l billing.Lease) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leases (
			id, room_id, property_id, tenant_name, rent_amount, billing_period_months,
			payment_timing, due_offset_days, start_date, end_date, status, terminated_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_name = excluded.tenant_name,
			rent_amount = excluded.rent_amount,
			billing_period_months = excluded.billing_period_months,
			payment_timing = excluded.payment_timing,
			due_offset_days = excluded.due_offset_days,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			terminated_at = excluded.terminated_at,
			updated_at = excluded.updated_at`,
		l.ID, l.RoomID, l.PropertyID, l.TenantName, l.RentAmount.String(), l.BillingPeriodMonths,
		l.PaymentTiming, l.DueOffsetDays, l.StartDate.String(), nullDate(l.EndDate), l.Status,
		nullDate(l.TerminatedAt), formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "room", ID: string(l.RoomID)}
		}
		return fmt.Errorf("failed to save lease: %w", err)
	}
	return nil
}

func (c *conn) GetLease(ctx context.Context, id billing.LeaseID) (billing.Lease, error) {
	var (
		l                             billing.Lease
		rent, start, created, updated string
		end, terminated               sql.NullString
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, room_id, property_id, tenant_name, rent_amount, billing_period_months,
			payment_timing, due_offset_days, start_date, end_date, status, terminated_at,
			created_at, updated_at
		FROM leases WHERE id = ?`, id,
	).Scan(
		&l.ID, &l.RoomID, &l.PropertyID, &l.TenantName, &rent, &l.BillingPeriodMonths,
		&l.PaymentTiming, &l.DueOffsetDays, &start, &end, &l.Status, &terminated,
		&created, &updated,
	)
	if err != nil {
		return billing.Lease{}, notFoundOr(err, "lease", id)
	}
	var d decoder
	l.RentAmount = d.decimal(rent)
	l.StartDate = d.date(start)
	l.EndDate = d.nullDate(end)
	l.TerminatedAt = d.nullDate(terminated)
	l.CreatedAt = d.time(created)
	l.UpdatedAt = d.time(updated)
	return l, d.err
}
