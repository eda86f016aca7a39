package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func TestStockRepositoryGetByProductID(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, product_id, quantity, reserved, minimum_stock, reorder_point")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "product_id", "quantity", "reserved", "minimum_stock", "reorder_point",
			"last_update_by", "created_at", "updated_at",
		}).
			AddRow("s1", "p1", 10, 3, 4, 6, "manager-1", now, now))

	repo := NewStockRepository(mock)
	rec, err := repo.GetByProductID(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, 10, rec.Quantity)
	assert.Equal(t, 3, rec.Reserved)
	assert.Equal(t, 7, rec.Available())
	assert.Equal(t, 4, rec.MinimumStock)
	assert.Equal(t, 6, rec.ReorderPoint)
	assert.Equal(t, "manager-1", rec.LastUpdateBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositoryGetByProductIDNotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, product_id, quantity, reserved, minimum_stock, reorder_point")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	repo := NewStockRepository(mock)
	_, err = repo.GetByProductID(context.Background(), "missing")

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositoryCreateWritesAudit(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(readCommitted)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_records")).
		WithArgs(pgxmock.AnyArg(), "p1", 25, 0, 5, 8, "cashier-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), "p1", domain.MovementCreation, 25, 0, 25, "", "cashier-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewStockRepository(mock)
	rec := &domain.StockRecord{ProductID: "p1", Quantity: 25, MinimumStock: 5, ReorderPoint: 8}
	require.NoError(t, repo.Create(context.Background(), rec, "cashier-1"))

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, "cashier-1", rec.LastUpdateBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositorySetQuantity(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quantity, reserved, minimum_stock, reorder_point, created_at")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "quantity", "reserved", "minimum_stock", "reorder_point", "created_at"}).
			AddRow("s1", 10, 2, 4, 6, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_records")).
		WithArgs(15, "manager-1", "p1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_audit")).
		WithArgs(pgxmock.AnyArg(), "p1", domain.MovementAdjustment, 5, 10, 15, "", "manager-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewStockRepository(mock)
	rec, err := repo.SetQuantity(context.Background(), "p1", 15, "manager-1")

	require.NoError(t, err)
	assert.Equal(t, 15, rec.Quantity)
	assert.Equal(t, 2, rec.Reserved)
	assert.Equal(t, "manager-1", rec.LastUpdateBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositorySetQuantityBelowReserved(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectBeginTx(readCommitted)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quantity, reserved, minimum_stock, reorder_point, created_at")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "quantity", "reserved", "minimum_stock", "reorder_point", "created_at"}).
			AddRow("s1", 10, 6, 0, 0, now))
	mock.ExpectRollback()

	repo := NewStockRepository(mock)
	_, err = repo.SetQuantity(context.Background(), "p1", 4, "manager-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositorySetQuantityNegative(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewStockRepository(mock)
	_, err = repo.SetQuantity(context.Background(), "p1", -1, "manager-1")

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestStockRepositoryListLowStockUsesMinimumStockByDefault(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("CASE WHEN $1 >= 0 THEN $1 ELSE minimum_stock END")).
		WithArgs(-1).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("CASE WHEN $1 >= 0 THEN $1 ELSE minimum_stock END")).
		WithArgs(-1, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "product_id", "quantity", "reserved", "minimum_stock", "reorder_point",
			"last_update_by", "created_at", "updated_at",
		}).
			AddRow("s1", "p1", 5, 3, 4, 6, "op1", now, now))

	repo := NewStockRepository(mock)
	records, total, err := repo.ListLowStock(context.Background(), -1, 20, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, 4, records[0].MinimumStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockRepositoryListAudit(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM stock_audit")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_audit")).
		WithArgs("p1", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "product_id", "movement_type", "quantity_change",
			"previous_quantity", "new_quantity", "reference", "performed_by", "created_at",
		}).
			AddRow("a2", "p1", string(domain.MovementRelease), -2, 5, 3, "cart:c1", "op1", now).
			AddRow("a1", "p1", string(domain.MovementReservation), 5, 0, 5, "cart:c1", "op1", now.Add(-time.Minute)))

	repo := NewStockRepository(mock)
	entries, total, err := repo.ListAudit(context.Background(), "p1", 20, 0)

	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.MovementRelease, entries[0].MovementType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
