/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Durable storage for price histories, collaborator records, readings,
  services, invoices and payments. The engine only sees billing.Store, so
  everything here is about mapping rows and enforcing at the database
  level what the engine already checks in code.

KEY TABLES:
  price_points:        Append-only price history, one row per point
  consumption_readings: Meter readings with status and claiming invoice
  reading_claims:      One row per billed reading (primary key = reading)
  usage_records:       Per-usage and incident records
  usage_claims:        One row per billed usage record
  invoices:            Invoice headers, status cached
  invoice_line_items:  Billed snapshot, references the price point used
  payments:            Append-only

INDEXES:
  - idx_price_points_lookup: (scope_key, effective_date DESC, id DESC) so
    resolution is a single index seek with LIMIT 1
  - idx_invoices_live_period: UNIQUE (lease_id, period_start, period_end)
    WHERE status <> 'void', at most one live invoice per period
  - idx_line_items_scope: retroactive price checks per scope

CONCURRENCY:
  The pool is limited to one connection. SQLite has a single writer
  anyway, transactions open with BEGIN IMMEDIATE, and an in-memory
  database lives exactly as long as its connection. Inside WithTx every
  query runs on the *sql.Tx, never on the pool.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  builder := billing.NewBuilder(store, billing.DefaultBuilderConfig())

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lease-billing/billing"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements billing.Store on top of a querier. Store uses the pool,
// WithTx hands out a conn bound to the transaction.
type conn struct {
	q querier
}

// Store implements billing.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

var _ billing.TxStore = (*Store)(nil)

// New opens the database at dbPath and migrates it. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{conn: &conn{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		landlord_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		property_id TEXT NOT NULL REFERENCES properties(id),
		tenant_name TEXT NOT NULL DEFAULT '',
		rent_amount TEXT NOT NULL,
		billing_period_months INTEGER NOT NULL,
		payment_timing TEXT NOT NULL,
		due_offset_days INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		terminated_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only price history
	CREATE TABLE IF NOT EXISTS price_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope_key TEXT NOT NULL,
		cost_type TEXT NOT NULL,
		property_id TEXT,
		service_id TEXT,
		unit_price TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_price_points_lookup
		ON price_points(scope_key, effective_date DESC, id DESC);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		landlord_id TEXT NOT NULL,
		property_id TEXT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS service_registrations (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id),
		service_id TEXT NOT NULL REFERENCES services(id) ON DELETE RESTRICT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_lease ON service_registrations(lease_id);
	CREATE INDEX IF NOT EXISTS idx_registrations_service ON service_registrations(service_id);

	CREATE TABLE IF NOT EXISTS consumption_readings (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		cost_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		previous_index TEXT NOT NULL,
		current_index TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		status TEXT NOT NULL,
		invoice_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_room_period
		ON consumption_readings(room_id, period_start, period_end);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL REFERENCES services(id) ON DELETE RESTRICT,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		usage_date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		resolved_unit_price TEXT NOT NULL DEFAULT '0',
		amount TEXT NOT NULL DEFAULT '0',
		invoice_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_room_date ON usage_records(room_id, usage_date);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id),
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		due_date TEXT NOT NULL,
		total_due TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		voided_at TEXT,
		void_reason TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: at most one live invoice per lease and period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_live_period
		ON invoices(lease_id, period_start, period_end)
		WHERE status <> 'void';

	CREATE TABLE IF NOT EXISTS invoice_line_items (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		amount TEXT NOT NULL,
		price_point_id INTEGER REFERENCES price_points(id) ON DELETE RESTRICT,
		price_scope TEXT,
		price_as_of TEXT,
		reading_id TEXT,
		usage_id TEXT,
		service_id TEXT REFERENCES services(id) ON DELETE RESTRICT
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_invoice ON invoice_line_items(invoice_id, position);
	CREATE INDEX IF NOT EXISTS idx_line_items_price ON invoice_line_items(price_point_id);
	CREATE INDEX IF NOT EXISTS idx_line_items_scope ON invoice_line_items(price_scope, price_as_of);
	CREATE INDEX IF NOT EXISTS idx_line_items_service ON invoice_line_items(service_id);

	-- CRITICAL: a record is claimed by at most one invoice
	CREATE TABLE IF NOT EXISTS reading_claims (
		reading_id TEXT PRIMARY KEY REFERENCES consumption_readings(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		claimed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_claims (
		usage_id TEXT PRIMARY KEY REFERENCES usage_records(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		claimed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice ON payments(invoice_id, seq);
`

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"payments", "reading_claims", "usage_claims", "invoice_line_items", "invoices",
		"usage_records", "consumption_readings", "service_registrations", "services",
		"price_points", "leases", "rooms", "properties",
	}
	return s.WithTx(ctx, func(tx billing.Store) error {
		c := tx.(*conn)
		for _, table := range tables {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *billing.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// decoder parses stored text columns, keeping the first error.
type decoder struct {
	err error
}

func (d *decoder) date(s string) billing.Date {
	v, err := billing.ParseDate(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("bad stored date %q: %w", s, err)
	}
	return v
}

func (d *decoder) nullDate(ns sql.NullString) *billing.Date {
	if !ns.Valid {
		return nil
	}
	v := d.date(ns.String)
	return &v
}

func (d *decoder) time(s string) time.Time {
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("bad stored timestamp %q: %w", s, err)
	}
	return v
}

func (d *decoder) nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	v := d.time(ns.String)
	return &v
}

func (d *decoder) decimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("bad stored amount %q: %w", s, err)
	}
	return v
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// notFoundOr maps sql.ErrNoRows to a NotFoundError and wraps anything else.
func notFoundOr(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &billing.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
	}
	return fmt.Errorf("failed to load %s %v: %w", entity, id, err)
}

func affectedOne(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &billing.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
	}
	return nil
}
