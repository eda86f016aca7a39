package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// StockRepository is the PostgreSQL implementation of stock record access.
type StockRepository struct {
	db database.DBTX
}

// NewStockRepository creates a stock repository backed by the given pool.
func NewStockRepository(db database.DBTX) *StockRepository {
	return &StockRepository{db: db}
}

// GetByProductID fetches the stock record for a product.
func (r *StockRepository) GetByProductID(ctx context.Context, productID string) (*domain.StockRecord, error) {
	query := `
		SELECT id, product_id, quantity, reserved, minimum_stock, reorder_point,
		       COALESCE(last_update_by, ''), created_at, updated_at
		FROM stock_records
		WHERE product_id = $1`

	var rec domain.StockRecord
	err := r.db.QueryRow(ctx, query, productID).Scan(
		&rec.ID, &rec.ProductID, &rec.Quantity, &rec.Reserved,
		&rec.MinimumStock, &rec.ReorderPoint, &rec.LastUpdateBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock record", productID)
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}

	return &rec, nil
}

// Create inserts a new stock record and its creation audit entry in one
// transaction. Every stock mutation writes an audit row atomically with the
// mutation itself so the trail cannot drift from the counters.
func (r *StockRepository) Create(ctx context.Context, record *domain.StockRecord, performedBy string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin create stock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	record.ID = uuid.New().String()
	record.Reserved = 0
	record.LastUpdateBy = performedBy
	record.CreatedAt = now
	record.UpdatedAt = now

	insertQuery := `
		INSERT INTO stock_records (id, product_id, quantity, reserved, minimum_stock, reorder_point, last_update_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`

	if _, err := tx.Exec(ctx, insertQuery,
		record.ID, record.ProductID, record.Quantity, record.Reserved,
		record.MinimumStock, record.ReorderPoint, performedBy, record.CreatedAt, record.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.AlreadyExists("stock record", record.ProductID)
		}
		return fmt.Errorf("insert stock record: %w", err)
	}

	if err := insertAudit(ctx, tx, &domain.AuditEntry{
		ProductID:        record.ProductID,
		MovementType:     domain.MovementCreation,
		QuantityChange:   record.Quantity,
		PreviousQuantity: 0,
		NewQuantity:      record.Quantity,
		PerformedBy:      performedBy,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create stock transaction: %w", err)
	}

	return nil
}

// SetQuantity replaces the on-hand quantity under a row lock, refusing values
// below the current reserved count, and records an adjustment audit entry in
// the same transaction.
func (r *StockRepository) SetQuantity(ctx context.Context, productID string, quantity int, performedBy string) (*domain.StockRecord, error) {
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must be non-negative")
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin set quantity transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT id, quantity, reserved, minimum_stock, reorder_point, created_at
		FROM stock_records
		WHERE product_id = $1
		FOR UPDATE`

	var rec domain.StockRecord
	rec.ProductID = productID
	err = tx.QueryRow(ctx, lockQuery, productID).Scan(
		&rec.ID, &rec.Quantity, &rec.Reserved, &rec.MinimumStock, &rec.ReorderPoint, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock record", productID)
		}
		return nil, fmt.Errorf("lock stock record: %w", err)
	}

	if quantity < rec.Reserved {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"cannot set quantity to %d: %d units are reserved", quantity, rec.Reserved,
		))
	}

	previous := rec.Quantity

	updateQuery := `
		UPDATE stock_records
		SET quantity = $1, last_update_by = NULLIF($2, ''), updated_at = NOW()
		WHERE product_id = $3`

	if _, err := tx.Exec(ctx, updateQuery, quantity, performedBy, productID); err != nil {
		return nil, fmt.Errorf("update stock quantity: %w", err)
	}

	if err := insertAudit(ctx, tx, &domain.AuditEntry{
		ProductID:        productID,
		MovementType:     domain.MovementAdjustment,
		QuantityChange:   quantity - previous,
		PreviousQuantity: previous,
		NewQuantity:      quantity,
		PerformedBy:      performedBy,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set quantity transaction: %w", err)
	}

	rec.Quantity = quantity
	rec.LastUpdateBy = performedBy
	rec.UpdatedAt = time.Now().UTC()
	return &rec, nil
}

// ListLowStock returns stock records whose available quantity is at or below
// the threshold, ordered by available ascending. A negative threshold compares
// each record against its own minimum stock instead.
func (r *StockRepository) ListLowStock(ctx context.Context, threshold, limit, offset int) ([]domain.StockRecord, int, error) {
	var total int
	countQuery := `
		SELECT COUNT(*) FROM stock_records
		WHERE quantity - reserved <= CASE WHEN $1 >= 0 THEN $1 ELSE minimum_stock END`
	if err := r.db.QueryRow(ctx, countQuery, threshold).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count low stock: %w", err)
	}

	query := `
		SELECT id, product_id, quantity, reserved, minimum_stock, reorder_point,
		       COALESCE(last_update_by, ''), created_at, updated_at
		FROM stock_records
		WHERE quantity - reserved <= CASE WHEN $1 >= 0 THEN $1 ELSE minimum_stock END
		ORDER BY quantity - reserved ASC, product_id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, threshold, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var records []domain.StockRecord
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(
			&rec.ID, &rec.ProductID, &rec.Quantity, &rec.Reserved,
			&rec.MinimumStock, &rec.ReorderPoint, &rec.LastUpdateBy, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan stock record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}

	return records, total, nil
}

// ListAudit returns the audit trail for a product, newest first.
func (r *StockRepository) ListAudit(ctx context.Context, productID string, limit, offset int) ([]domain.AuditEntry, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM stock_audit WHERE product_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, productID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := `
		SELECT id, product_id, movement_type, quantity_change, previous_quantity, new_quantity,
		       COALESCE(reference, ''), COALESCE(performed_by, ''), created_at
		FROM stock_audit
		WHERE product_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.MovementType, &e.QuantityChange,
			&e.PreviousQuantity, &e.NewQuantity, &e.Reference, &e.PerformedBy, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit rows: %w", err)
	}

	return entries, total, nil
}

// insertAudit appends one audit row using the caller's transaction so the
// entry commits or rolls back together with the mutation it describes.
func insertAudit(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO stock_audit (id, product_id, movement_type, quantity_change, previous_quantity, new_quantity, reference, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NOW())`

	if _, err := tx.Exec(ctx, query,
		uuid.New().String(), entry.ProductID, entry.MovementType, entry.QuantityChange,
		entry.PreviousQuantity, entry.NewQuantity, entry.Reference, entry.PerformedBy,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// InsertAuditTx exposes the audit insert for services running their own
// transactions over the same tables.
func InsertAuditTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	return insertAudit(ctx, tx, entry)
}
