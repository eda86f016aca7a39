package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

type mockInvoiceRepo struct {
	mock.Mock
}

func (m *mockInvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

func (m *mockInvoiceRepo) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

type mockNumbering struct {
	mock.Mock
}

func (m *mockNumbering) NextNumber(ctx context.Context, series string) (string, error) {
	args := m.Called(ctx, series)
	return args.String(0), args.Error(1)
}

type mockPrinter struct {
	mock.Mock
}

func (m *mockPrinter) PrintReceipt(ctx context.Context, invoice *domain.Invoice) error {
	return m.Called(ctx, invoice).Error(0)
}

type stubSalePublisher struct{}

func (stubSalePublisher) PublishSaleCompleted(context.Context, *domain.Invoice) error { return nil }
func (stubSalePublisher) PublishStockUpdated(context.Context, *domain.StockRecord) error {
	return nil
}

func newSale(t *testing.T) (*SaleService, pgxmock.PgxPoolIface, *mockCartRepo, *mockNumbering, *mockPrinter) {
	t.Helper()
	pool, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cartRepo := &mockCartRepo{}
	numbering := &mockNumbering{}
	printer := &mockPrinter{}
	svc := NewSaleService(cartRepo, &mockInvoiceRepo{}, pool, stubSalePublisher{}, numbering, printer, newTestLogger(), 0.1, false)
	return svc, pool, cartRepo, numbering, printer
}

func finalizableCart() *domain.CartSession {
	return activeCart(
		domain.CartLine{ProductID: "p1", Description: "Soap", Quantity: 2, UnitPriceCents: 1000},
		domain.CartLine{ProductID: "p2", Description: "Brush", Quantity: 1, UnitPriceCents: 500},
	)
}

func expectLineConsumed(pool pgxmock.PgxPoolIface, productID string, qty, stockQty, stockReserved int) {
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_lines")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), productID, pgxmock.AnyArg(),
			qty, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT active")).
		WithArgs(productID).
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT quantity, reserved")).
		WithArgs(productID).
		WillReturnRows(pgxmock.NewRows([]string{"quantity", "reserved"}).AddRow(stockQty, stockReserved))
	pool.ExpectQuery(regexp.QuoteMeta("FROM product_lots")).
		WithArgs(productID).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(0))
	pool.ExpectExec(regexp.QuoteMeta("SET quantity = quantity - $1, reserved = reserved - $1")).
		WithArgs(qty, pgxmock.AnyArg(), productID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), productID, domain.MovementSale, -qty, stockQty, stockQty-qty, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), productID, domain.MovementRelease, -qty, stockReserved, stockReserved-qty, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestSaleFinalizeCommitsEverythingTogether(t *testing.T) {
	svc, pool, cartRepo, numbering, printer := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000123", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), "POS-000123", domain.InvoiceStatusCompleted, "", "cashier-1",
			int64(2500), 0.1, int64(250), int64(2750), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectLineConsumed(pool, "p1", 2, 10, 4)
	expectLineConsumed(pool, "p2", 1, 3, 1)
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_payments")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), domain.PaymentCash, int64(3000), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	cartRepo.On("Delete", mock.Anything, "c1").Return(nil)
	printer.On("PrintReceipt", mock.Anything, mock.Anything).Return(nil)

	invoice, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 3000}})

	require.NoError(t, err)
	assert.Equal(t, "POS-000123", invoice.Number)
	assert.Equal(t, int64(2750), invoice.TotalCents)
	assert.Equal(t, int64(250), invoice.ChangeCents())
	assert.NoError(t, pool.ExpectationsWereMet())
	cartRepo.AssertExpectations(t)
	printer.AssertExpectations(t)
}

func TestSaleFinalizeUsesFallbackNumber(t *testing.T) {
	svc, pool, cartRepo, numbering, printer := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("", assert.AnError)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectLineConsumed(pool, "p1", 2, 10, 4)
	expectLineConsumed(pool, "p2", 1, 3, 1)
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_payments")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	cartRepo.On("Delete", mock.Anything, "c1").Return(nil)
	printer.On("PrintReceipt", mock.Anything, mock.Anything).Return(nil)

	invoice, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	require.NoError(t, err)
	assert.Regexp(t, `^INV-\d+$`, invoice.Number)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaleFinalizeRejectsUnderpayment(t *testing.T) {
	svc, pool, cartRepo, _, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 100}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaleFinalizeRollsBackWhenReservationLost(t *testing.T) {
	svc, pool, cartRepo, numbering, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000124", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_lines")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT active")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))
	// Reserved count below the line quantity: the holds were lost.
	pool.ExpectQuery(regexp.QuoteMeta("SELECT quantity, reserved")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity", "reserved"}).AddRow(10, 1))
	pool.ExpectRollback()

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvariant))
	assert.NoError(t, pool.ExpectationsWereMet())
	cartRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestSaleFinalizeRejectsDeactivatedProduct(t *testing.T) {
	svc, pool, cartRepo, numbering, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000126", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_lines")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// The product was deactivated after add-to-cart.
	pool.ExpectQuery(regexp.QuoteMeta("SELECT active")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(false))
	pool.ExpectRollback()

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Contains(t, err.Error(), "p1")
	assert.NoError(t, pool.ExpectationsWereMet())
	cartRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestSaleFinalizeRollsBackWhenStockExpired(t *testing.T) {
	svc, pool, cartRepo, numbering, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000127", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_lines")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT active")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT quantity, reserved")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity", "reserved"}).AddRow(3, 2))
	// Every remaining unit expired while the cart sat open: the hold still
	// exists but only 1 fresh unit covers a 2-unit line.
	pool.ExpectQuery(regexp.QuoteMeta("FROM product_lots")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(2))
	pool.ExpectRollback()

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
	assert.NoError(t, pool.ExpectationsWereMet())
	cartRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestSaleFinalizeSkipsExpirationCheckWhenPolicyAllows(t *testing.T) {
	pool, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cartRepo := &mockCartRepo{}
	numbering := &mockNumbering{}
	printer := &mockPrinter{}
	svc := NewSaleService(cartRepo, &mockInvoiceRepo{}, pool, stubSalePublisher{}, numbering, printer, newTestLogger(), 0.1, true)

	cart := activeCart(domain.CartLine{ProductID: "p1", Description: "Soap", Quantity: 2, UnitPriceCents: 1000})
	cartRepo.On("GetByID", mock.Anything, "c1").Return(cart, nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000128", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_lines")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectQuery(regexp.QuoteMeta("SELECT active")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))
	// No product_lots query: expired stock is sellable under this policy.
	pool.ExpectQuery(regexp.QuoteMeta("SELECT quantity, reserved")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"quantity", "reserved"}).AddRow(2, 2))
	pool.ExpectExec(regexp.QuoteMeta("SET quantity = quantity - $1, reserved = reserved - $1")).
		WithArgs(2, pgxmock.AnyArg(), "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_payments")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	cartRepo.On("Delete", mock.Anything, "c1").Return(nil)
	printer.On("PrintReceipt", mock.Anything, mock.Anything).Return(nil)

	invoice, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	require.NoError(t, err)
	assert.Equal(t, "POS-000128", invoice.Number)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaleFinalizePrinterFailureDoesNotFailSale(t *testing.T) {
	svc, pool, cartRepo, numbering, printer := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)
	numbering.On("NextNumber", mock.Anything, "POS").Return("POS-000125", nil)

	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectLineConsumed(pool, "p1", 2, 10, 4)
	expectLineConsumed(pool, "p2", 1, 3, 1)
	pool.ExpectExec(regexp.QuoteMeta("INSERT INTO invoice_payments")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	cartRepo.On("Delete", mock.Anything, "c1").Return(nil)
	printer.On("PrintReceipt", mock.Anything, mock.Anything).Return(assert.AnError)

	invoice, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "card", AmountCents: 2750}})

	require.NoError(t, err)
	assert.Equal(t, "POS-000125", invoice.Number)
}

func TestSaleFinalizeRejectsEmptyCart(t *testing.T) {
	svc, _, cartRepo, _, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(activeCart(), nil)

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 100}})

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestSaleFinalizeRejectsInactiveCart(t *testing.T) {
	svc, _, cartRepo, _, _ := newSale(t)

	cart := finalizableCart()
	cart.Status = domain.CartStatusAbandoned
	cartRepo.On("GetByID", mock.Anything, "c1").Return(cart, nil)

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1",
		[]PaymentInput{{Method: "cash", AmountCents: 5000}})

	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestSaleFinalizeRequiresPayments(t *testing.T) {
	svc, _, cartRepo, _, _ := newSale(t)

	cartRepo.On("GetByID", mock.Anything, "c1").Return(finalizableCart(), nil)

	_, err := svc.Finalize(context.Background(), "c1", "", "cashier-1", nil)

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
