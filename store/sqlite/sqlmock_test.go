package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

var priceRowColumns = []string{"id", "cost_type", "property_id", "service_id", "unit_price", "effective_date", "created_at"}

func TestDeletePricePoint_ReferencedRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM price_points WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(priceRowColumns).
			AddRow(int64(7), "electricity", "p1", nil, "3500", "2025-01-01", "2025-01-01T00:00:00Z"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM invoice_line_items WHERE price_point_id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := billing.NewCatalog(s).DeletePricePoint(context.Background(), 7)

	assert.Equal(t, billing.CodePriceInUse, billing.Code(err))
	var inUse *billing.ReferenceInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Equal(t, 2, inUse.References)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePricePoint_UnreferencedCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM price_points WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(priceRowColumns).
			AddRow(int64(7), "service", nil, "s1", "20000", "2025-01-01", "2025-01-01T00:00:00Z"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM invoice_line_items`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM price_points WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := billing.NewCatalog(s).DeletePricePoint(context.Background(), 7)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	called := false
	err := s.WithTx(context.Background(), func(billing.Store) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, billing.CodeInternal, billing.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPayment_StorageFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM invoices WHERE id = \?`).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lease_id", "period_start", "period_end", "due_date", "total_due", "status",
			"created_at", "voided_at", "void_reason",
		}).AddRow("inv-1", "l1", "2025-03-01", "2025-04-01", "2025-03-10", "3250000", "unpaid",
			"2025-03-01T00:00:00Z", nil, ""))
	mock.ExpectQuery(`FROM invoice_line_items WHERE invoice_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM payments WHERE invoice_id = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "amount", "method", "external_ref", "recorded_at"}))
	mock.ExpectExec(`INSERT INTO payments`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ledger := billing.NewPaymentLedger(s, billing.DefaultBuilderConfig().Rounding)
	_, _, err := ledger.RecordPayment(context.Background(), billing.PaymentInput{
		InvoiceID: "inv-1", Amount: decimal.NewFromInt(1000), Method: billing.MethodCash})

	require.Error(t, err)
	assert.Equal(t, billing.CodeInternal, billing.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInvoice_UniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO invoices`).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	err := s.InsertInvoice(context.Background(), billing.Invoice{ID: "inv-2", LeaseID: "l1", Period: march})

	assert.Equal(t, billing.CodeInvoiceExists, billing.Code(err))
	assert.ErrorIs(t, err, billing.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReading_LostRace(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE consumption_readings SET status = \?, invoice_id = \? WHERE id = \? AND status = \?`).
		WithArgs(billing.ReadingBilled, "inv-2", "rd1", billing.ReadingRecorded).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM consumption_readings WHERE id = \?`).
		WithArgs("rd1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "room_id", "cost_type", "period_start", "period_end", "previous_index",
			"current_index", "recorded_at", "status", "invoice_id", "created_at",
		}).AddRow("rd1", "r1", "water", "2025-03-01", "2025-04-01", "40", "50",
			"2025-03-15T10:00:00Z", "billed", "inv-1", "2025-03-15T10:00:00Z"))

	err := s.ClaimReading(context.Background(), "rd1", "inv-2")

	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}
