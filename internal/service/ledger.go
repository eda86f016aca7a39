package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/repository"
	"github.com/salepoint/salepoint/internal/repository/postgres"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// StockEventPublisher publishes stock-related domain events.
type StockEventPublisher interface {
	PublishStockUpdated(ctx context.Context, record *domain.StockRecord) error
	PublishStockReserved(ctx context.Context, productID string, quantity int, reference string) error
	PublishStockReleased(ctx context.Context, productID string, quantity int, reference string) error
}

// Availability is the expiration-aware view of a product's stock.
type Availability struct {
	Record   *domain.StockRecord `json:"record"`
	Expired  int                 `json:"expired"`
	Sellable int                 `json:"sellable"`
}

// LedgerService owns the stock counters and the reservation protocol. Reserve
// and release are transactional scripts over the pool: the row lock makes the
// check-then-increment atomic, so concurrent requests can never promise the
// same unit twice.
type LedgerService struct {
	stockRepo repository.StockRepository
	lotRepo   repository.LotRepository
	pool      database.DBTX
	producer  StockEventPublisher
	logger    *slog.Logger

	// allowExpiredSales disables the expired-unit subtraction from the
	// reservation ceiling. Store policy for sites that sell short-dated
	// goods at the till.
	allowExpiredSales bool
}

// NewLedgerService creates the stock ledger service.
func NewLedgerService(
	stockRepo repository.StockRepository,
	lotRepo repository.LotRepository,
	pool database.DBTX,
	producer StockEventPublisher,
	logger *slog.Logger,
	allowExpiredSales bool,
) *LedgerService {
	return &LedgerService{
		stockRepo:         stockRepo,
		lotRepo:           lotRepo,
		pool:              pool,
		producer:          producer,
		logger:            logger,
		allowExpiredSales: allowExpiredSales,
	}
}

// GetAvailability returns the stock record together with its expired quantity
// and the resulting sellable ceiling.
func (s *LedgerService) GetAvailability(ctx context.Context, productID string) (*Availability, error) {
	record, err := s.stockRepo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}

	expired, err := s.lotRepo.ExpiredQuantity(ctx, productID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("get expired quantity: %w", err)
	}

	return &Availability{
		Record:   record,
		Expired:  expired,
		Sellable: record.Sellable(expired),
	}, nil
}

// CreateRecord seeds the stock ledger for a new product. Minimum stock and
// reorder point are informational thresholds feeding the low-stock report.
func (s *LedgerService) CreateRecord(ctx context.Context, productID string, quantity, minimumStock, reorderPoint int, performedBy string) (*domain.StockRecord, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must be non-negative")
	}
	if minimumStock < 0 || reorderPoint < 0 {
		return nil, apperrors.InvalidInput("minimum_stock and reorder_point must be non-negative")
	}

	record := &domain.StockRecord{
		ProductID:    productID,
		Quantity:     quantity,
		MinimumStock: minimumStock,
		ReorderPoint: reorderPoint,
	}
	if err := s.stockRepo.Create(ctx, record, performedBy); err != nil {
		return nil, fmt.Errorf("create stock record: %w", err)
	}

	if err := s.producer.PublishStockUpdated(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.updated event",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock record created",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return record, nil
}

// SetQuantity replaces the on-hand quantity, typically after a physical count
// or to remove expired units.
func (s *LedgerService) SetQuantity(ctx context.Context, productID string, quantity int, performedBy string) (*domain.StockRecord, error) {
	record, err := s.stockRepo.SetQuantity(ctx, productID, quantity, performedBy)
	if err != nil {
		return nil, fmt.Errorf("set quantity: %w", err)
	}

	if err := s.producer.PublishStockUpdated(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.updated event",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock quantity set",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
		slog.String("performed_by", performedBy),
	)

	return record, nil
}

// Reserve places a hold on sellable units. It returns false when the request
// exceeds the sellable ceiling, which is an expected outcome at a busy till,
// not an error. The ceiling check and the increment happen under a row lock
// so two cashiers cannot both take the last unit.
func (s *LedgerService) Reserve(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error) {
	if quantity <= 0 {
		return false, apperrors.InvariantViolation(fmt.Sprintf("reserve quantity must be positive, got %d", quantity))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("begin reserve transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT quantity, reserved
		FROM stock_records
		WHERE product_id = $1
		FOR UPDATE`

	var stockQuantity, stockReserved int
	if err := tx.QueryRow(ctx, lockQuery, productID).Scan(&stockQuantity, &stockReserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.NotFound("stock record", productID)
		}
		return false, fmt.Errorf("lock stock record: %w", err)
	}

	expired := 0
	if !s.allowExpiredSales {
		expiredQuery := `
			SELECT COALESCE(SUM(quantity), 0)
			FROM product_lots
			WHERE product_id = $1 AND expires_at <= NOW()`

		if err := tx.QueryRow(ctx, expiredQuery, productID).Scan(&expired); err != nil {
			return false, fmt.Errorf("sum expired lots: %w", err)
		}
	}

	sellable := stockQuantity - stockReserved - expired
	if sellable < 0 {
		sellable = 0
	}
	if quantity > sellable {
		s.logger.InfoContext(ctx, "reservation refused",
			slog.String("product_id", productID),
			slog.Int("requested", quantity),
			slog.Int("sellable", sellable),
			slog.Int("expired", expired),
		)
		return false, nil
	}

	updateQuery := `
		UPDATE stock_records
		SET reserved = reserved + $1, last_update_by = NULLIF($2, ''), updated_at = NOW()
		WHERE product_id = $3`

	if _, err := tx.Exec(ctx, updateQuery, quantity, performedBy, productID); err != nil {
		return false, fmt.Errorf("increment reserved count: %w", err)
	}

	if err := postgres.InsertAuditTx(ctx, tx, &domain.AuditEntry{
		ProductID:        productID,
		MovementType:     domain.MovementReservation,
		QuantityChange:   quantity,
		PreviousQuantity: stockReserved,
		NewQuantity:      stockReserved + quantity,
		Reference:        reference,
		PerformedBy:      performedBy,
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reserve transaction: %w", err)
	}

	if err := s.producer.PublishStockReserved(ctx, productID, quantity, reference); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.reserved event",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock reserved",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
		slog.String("reference", reference),
	)

	return true, nil
}

// Release returns held units to the sellable pool. Releasing zero is a no-op.
// Releasing more than is currently reserved returns false and leaves the
// counters untouched; the caller decides whether that is a bug or a race.
func (s *LedgerService) Release(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error) {
	if quantity < 0 {
		return false, apperrors.InvariantViolation(fmt.Sprintf("release quantity must be non-negative, got %d", quantity))
	}
	if quantity == 0 {
		return true, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("begin release transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `
		SELECT quantity, reserved
		FROM stock_records
		WHERE product_id = $1
		FOR UPDATE`

	var stockQuantity, stockReserved int
	if err := tx.QueryRow(ctx, lockQuery, productID).Scan(&stockQuantity, &stockReserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.NotFound("stock record", productID)
		}
		return false, fmt.Errorf("lock stock record: %w", err)
	}

	if quantity > stockReserved {
		s.logger.WarnContext(ctx, "release exceeds reserved count",
			slog.String("product_id", productID),
			slog.Int("requested", quantity),
			slog.Int("reserved", stockReserved),
		)
		return false, nil
	}

	updateQuery := `
		UPDATE stock_records
		SET reserved = reserved - $1, last_update_by = NULLIF($2, ''), updated_at = NOW()
		WHERE product_id = $3`

	if _, err := tx.Exec(ctx, updateQuery, quantity, performedBy, productID); err != nil {
		return false, fmt.Errorf("decrement reserved count: %w", err)
	}

	if err := postgres.InsertAuditTx(ctx, tx, &domain.AuditEntry{
		ProductID:        productID,
		MovementType:     domain.MovementRelease,
		QuantityChange:   -quantity,
		PreviousQuantity: stockReserved,
		NewQuantity:      stockReserved - quantity,
		Reference:        reference,
		PerformedBy:      performedBy,
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit release transaction: %w", err)
	}

	if err := s.producer.PublishStockReleased(ctx, productID, quantity, reference); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.released event",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock released",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
		slog.String("reference", reference),
	)

	return true, nil
}

// AddLot records a dated batch for expiration tracking.
func (s *LedgerService) AddLot(ctx context.Context, lot *domain.ExpirationLot) error {
	if lot.ProductID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if lot.Quantity <= 0 {
		return apperrors.InvalidInput("lot quantity must be positive")
	}
	if lot.ExpiresAt.IsZero() {
		return apperrors.InvalidInput("expires_at is required")
	}

	if err := s.lotRepo.Add(ctx, lot); err != nil {
		return fmt.Errorf("add lot: %w", err)
	}

	return nil
}

// ListLowStock returns products whose available quantity is at or below the
// threshold. Passing a negative threshold compares each record against its own
// minimum stock.
func (s *LedgerService) ListLowStock(ctx context.Context, threshold, limit, offset int) ([]domain.StockRecord, int, error) {
	return s.stockRepo.ListLowStock(ctx, threshold, limit, offset)
}

// ListAudit returns the audit trail for a product, newest first.
func (s *LedgerService) ListAudit(ctx context.Context, productID string, limit, offset int) ([]domain.AuditEntry, int, error) {
	return s.stockRepo.ListAudit(ctx, productID, limit, offset)
}
