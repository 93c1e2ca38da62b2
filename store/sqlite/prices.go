package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// PRICE STORE (billing.PriceStore interface)
// =============================================================================

const priceColumns = `id, cost_type, property_id, service_id, unit_price, effective_date, created_at`

func (c *conn) InsertPricePoint(ctx context.Context, p billing.PricePoint) (billing.PricePoint, error) {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO price_points (scope_key, cost_type, property_id, service_id, unit_price, effective_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Scope.Key(), p.Scope.CostType,
		nullString(string(p.Scope.PropertyID)), nullString(string(p.Scope.ServiceID)),
		p.UnitPrice.String(), p.EffectiveDate.String(), formatTime(p.CreatedAt),
	)
	if err != nil {
		return billing.PricePoint{}, fmt.Errorf("failed to insert price point: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return billing.PricePoint{}, err
	}
	p.ID = billing.PricePointID(id)
	return p, nil
}

func (c *conn) GetPricePoint(ctx context.Context, id billing.PricePointID) (billing.PricePoint, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM price_points WHERE id = ?`, int64(id))
	p, err := scanPricePoint(row)
	if err != nil {
		return billing.PricePoint{}, notFoundOr(err, "price point", id)
	}
	return p, nil
}

func (c *conn) ListPricePoints(ctx context.Context, scope billing.PriceScope) ([]billing.PricePoint, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+priceColumns+` FROM price_points
		WHERE scope_key = ?
		ORDER BY effective_date, id`, scope.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPricePoint is a single seek on idx_price_points_lookup.
// Dates are stored as YYYY-MM-DD so text comparison is date order.
func (c *conn) LatestPricePoint(ctx context.Context, scope billing.PriceScope, asOf billing.Date) (billing.PricePoint, bool, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+priceColumns+` FROM price_points
		WHERE scope_key = ? AND effective_date <= ?
		ORDER BY effective_date DESC, id DESC
		LIMIT 1`, scope.Key(), asOf.String())
	p, err := scanPricePoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.PricePoint{}, false, nil
	}
	if err != nil {
		return billing.PricePoint{}, false, fmt.Errorf("failed to resolve price for %s: %w", scope, err)
	}
	return p, true, nil
}

func (c *conn) DeletePricePoint(ctx context.Context, id billing.PricePointID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM price_points WHERE id = ?`, int64(id))
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.ReferenceInUseError{Entity: billing.PricePointRef(id), Reason: "referenced by invoice line items"}
		}
		return fmt.Errorf("failed to delete price point: %w", err)
	}
	return affectedOne(res, "price point", id)
}

func (c *conn) CountPriceReferences(ctx context.Context, id billing.PricePointID) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoice_line_items WHERE price_point_id = ?`, int64(id)).Scan(&n)
	return n, err
}

func (c *conn) LatestInvoicedAsOf(ctx context.Context, scope billing.PriceScope) (*billing.Date, error) {
	var latest sql.NullString
	err := c.q.QueryRowContext(ctx, `
		SELECT MAX(li.price_as_of)
		FROM invoice_line_items li
		JOIN invoices i ON i.id = li.invoice_id
		WHERE li.price_scope = ? AND i.status <> 'void'`, scope.Key()).Scan(&latest)
	if err != nil {
		return nil, err
	}
	var d decoder
	out := d.nullDate(latest)
	return out, d.err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPricePoint(s scanner) (billing.PricePoint, error) {
	var (
		p                        billing.PricePoint
		id                       int64
		costType                 string
		propertyID, serviceID    sql.NullString
		price, effective, create string
	)
	if err := s.Scan(&id, &costType, &propertyID, &serviceID, &price, &effective, &create); err != nil {
		return p, err
	}
	var d decoder
	p.ID = billing.PricePointID(id)
	p.Scope = billing.PriceScope{
		CostType:   billing.CostType(costType),
		PropertyID: billing.PropertyID(propertyID.String),
		ServiceID:  billing.ServiceID(serviceID.String),
	}
	p.UnitPrice = d.decimal(price)
	p.EffectiveDate = d.date(effective)
	p.CreatedAt = d.time(create)
	return p, d.err
}
