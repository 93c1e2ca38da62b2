package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/lease-billing/billing"
)

// =============================================================================
// READING STORE (billing.ReadingStore interface)
// =============================================================================

const readingColumns = `id, room_id, cost_type, period_start, period_end, previous_index,
	current_index, recorded_at, status, invoice_id, created_at`

func (c *conn) InsertReading(ctx context.Context, r billing.ConsumptionReading) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO consumption_readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RoomID, r.CostType, r.Period.Start.String(), r.Period.End.String(),
		r.PreviousIndex.String(), r.CurrentIndex.String(), formatTime(r.RecordedAt),
		r.Status, nullString(string(r.InvoiceID)), formatTime(r.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "room", ID: string(r.RoomID)}
		}
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (c *conn) GetReading(ctx context.Context, id billing.ReadingID) (billing.ConsumptionReading, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM consumption_readings WHERE id = ?`, id)
	r, err := scanReading(row)
	if err != nil {
		return billing.ConsumptionReading{}, notFoundOr(err, "reading", id)
	}
	return r, nil
}

func (c *conn) UpdateReading(ctx context.Context, r billing.ConsumptionReading) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE consumption_readings SET
			cost_type = ?, period_start = ?, period_end = ?, previous_index = ?,
			current_index = ?, recorded_at = ?, status = ?, invoice_id = ?
		WHERE id = ?`,
		r.CostType, r.Period.Start.String(), r.Period.End.String(), r.PreviousIndex.String(),
		r.CurrentIndex.String(), formatTime(r.RecordedAt), r.Status, nullString(string(r.InvoiceID)),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reading: %w", err)
	}
	return affectedOne(res, "reading", r.ID)
}

func (c *conn) DeleteReading(ctx context.Context, id billing.ReadingID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM consumption_readings WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.ReferenceInUseError{Entity: billing.ReadingRef(id), Reason: "claimed by an invoice"}
		}
		return fmt.Errorf("failed to delete reading: %w", err)
	}
	return affectedOne(res, "reading", id)
}

// ListReadings returns readings whose period lies inside window.
func (c *conn) ListReadings(ctx context.Context, room billing.RoomID, window billing.Period) ([]billing.ConsumptionReading, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+readingColumns+` FROM consumption_readings
		WHERE room_id = ? AND period_start >= ? AND period_end <= ?
		ORDER BY id`, room, window.Start.String(), window.End.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.ConsumptionReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimReading flips the reading to billed only if it is still recorded,
// then writes the claim row. Either step failing means another invoice got
// there first.
func (c *conn) ClaimReading(ctx context.Context, id billing.ReadingID, invoice billing.InvoiceID) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE consumption_readings SET status = ?, invoice_id = ?
		WHERE id = ? AND status = ?`,
		billing.ReadingBilled, invoice, id, billing.ReadingRecorded)
	if err != nil {
		return fmt.Errorf("failed to claim reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetReading(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("claim reading %s: %w", id, billing.ErrConcurrentModification)
	}

	_, err = c.q.ExecContext(ctx,
		`INSERT INTO reading_claims (reading_id, invoice_id, claimed_at) VALUES (?, ?, ?)`,
		id, invoice, formatTime(time.Now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("claim reading %s: %w", id, billing.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to record reading claim: %w", err)
	}
	return nil
}

func (c *conn) ReleaseReadings(ctx context.Context, invoice billing.InvoiceID) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM reading_claims WHERE invoice_id = ?`, invoice); err != nil {
		return fmt.Errorf("failed to release reading claims: %w", err)
	}
	_, err := c.q.ExecContext(ctx, `
		UPDATE consumption_readings SET status = ?, invoice_id = NULL
		WHERE invoice_id = ? AND status = ?`,
		billing.ReadingRecorded, invoice, billing.ReadingBilled)
	if err != nil {
		return fmt.Errorf("failed to release readings: %w", err)
	}
	return nil
}

func scanReading(s scanner) (billing.ConsumptionReading, error) {
	var (
		r                      billing.ConsumptionReading
		start, end, prev, curr string
		recorded, created      string
		invoiceID              sql.NullString
	)
	err := s.Scan(&r.ID, &r.RoomID, &r.CostType, &start, &end, &prev, &curr,
		&recorded, &r.Status, &invoiceID, &created)
	if err != nil {
		return r, err
	}
	var d decoder
	r.Period = billing.Period{Start: d.date(start), End: d.date(end)}
	r.PreviousIndex = d.decimal(prev)
	r.CurrentIndex = d.decimal(curr)
	r.RecordedAt = d.time(recorded)
	r.InvoiceID = billing.InvoiceID(invoiceID.String)
	r.CreatedAt = d.time(created)
	return r, d.err
}
