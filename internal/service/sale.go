package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/salepoint/salepoint/internal/client"
	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/repository"
	"github.com/salepoint/salepoint/internal/repository/postgres"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// NumberProvider issues sequential invoice numbers.
type NumberProvider interface {
	NextNumber(ctx context.Context, series string) (string, error)
}

// ReceiptPrinter sends finalized invoices to the receipt printer.
type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, invoice *domain.Invoice) error
}

// SaleEventPublisher publishes sale-related domain events.
type SaleEventPublisher interface {
	PublishSaleCompleted(ctx context.Context, invoice *domain.Invoice) error
	PublishStockUpdated(ctx context.Context, record *domain.StockRecord) error
}

// PaymentInput is one tender submitted with a finalization request.
type PaymentInput struct {
	Method      string `json:"method" validate:"required,oneof=cash card transfer voucher"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Reference   string `json:"reference,omitempty"`
}

const invoiceSeries = "POS"

// SaleService turns an open cart into a finalized invoice. The invoice, its
// lines, its payments, the stock decrements and the reservation releases all
// commit in one transaction: a sale either fully exists or never happened.
type SaleService struct {
	cartRepo    repository.CartRepository
	invoiceRepo repository.InvoiceRepository
	pool        database.DBTX
	producer    SaleEventPublisher
	numbering   NumberProvider
	printer     ReceiptPrinter
	logger      *slog.Logger
	taxRate     float64

	// allowExpiredSales skips the expired-lot re-check at commit time,
	// mirroring the reservation ceiling policy.
	allowExpiredSales bool
}

// NewSaleService creates the sale finalization service.
func NewSaleService(
	cartRepo repository.CartRepository,
	invoiceRepo repository.InvoiceRepository,
	pool database.DBTX,
	producer SaleEventPublisher,
	numbering NumberProvider,
	printer ReceiptPrinter,
	logger *slog.Logger,
	taxRate float64,
	allowExpiredSales bool,
) *SaleService {
	return &SaleService{
		cartRepo:          cartRepo,
		invoiceRepo:       invoiceRepo,
		pool:              pool,
		producer:          producer,
		numbering:         numbering,
		printer:           printer,
		logger:            logger,
		taxRate:           taxRate,
		allowExpiredSales: allowExpiredSales,
	}
}

// GetInvoice fetches a finalized invoice by ID.
func (s *SaleService) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return s.invoiceRepo.GetByID(ctx, id)
}

// GetInvoiceByNumber fetches a finalized invoice by its number.
func (s *SaleService) GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return s.invoiceRepo.GetByNumber(ctx, number)
}

// Finalize converts the cart session into a completed invoice. Every cart
// line is re-validated at commit time: the product must still be active, the
// reservation must still be held, and non-expired stock must still cover the
// line. The transaction consumes the holds by decrementing quantity and
// reserved together under row locks. Receipt printing happens after commit
// and never fails the sale.
func (s *SaleService) Finalize(ctx context.Context, cartID, customerID, cashierID string, payments []PaymentInput) (*domain.Invoice, error) {
	cart, err := s.cartRepo.GetByID(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart for finalization: %w", err)
	}
	if cart.Status != domain.CartStatusActive {
		return nil, apperrors.Conflict(fmt.Sprintf("cart %s is %s", cartID, cart.Status))
	}
	if cart.IsEmpty() {
		return nil, apperrors.InvalidInput("cannot finalize an empty cart")
	}
	if len(payments) == 0 {
		return nil, apperrors.InvalidInput("at least one payment is required")
	}

	invoice := s.buildInvoice(cart, customerID, cashierID, payments)

	if paid := invoice.PaidCents(); paid < invoice.TotalCents {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"payments cover %d of %d cents", paid, invoice.TotalCents,
		))
	}

	invoice.Number = s.nextInvoiceNumber(ctx)

	updated, err := s.finalizeTx(ctx, invoice)
	if err != nil {
		return nil, err
	}

	// The reservations are consumed, so a stale session no longer holds
	// stock. Removal failure is logged, not returned.
	if err := s.cartRepo.Delete(ctx, cartID); err != nil {
		s.logger.ErrorContext(ctx, "failed to remove finalized cart session",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishSaleCompleted(ctx, invoice); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sale.completed event",
			slog.String("invoice_number", invoice.Number),
			slog.String("error", err.Error()),
		)
	}
	for i := range updated {
		if err := s.producer.PublishStockUpdated(ctx, &updated[i]); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stock.updated event",
				slog.String("product_id", updated[i].ProductID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.printer != nil {
		if err := s.printer.PrintReceipt(ctx, invoice); err != nil {
			s.logger.WarnContext(ctx, "receipt printing failed, sale is committed",
				slog.String("invoice_number", invoice.Number),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "sale finalized",
		slog.String("invoice_number", invoice.Number),
		slog.String("cart_id", cartID),
		slog.String("cashier_id", cashierID),
		slog.Int64("total_cents", invoice.TotalCents),
		slog.Int("line_count", len(invoice.Lines)),
	)

	return invoice, nil
}

func (s *SaleService) buildInvoice(cart *domain.CartSession, customerID, cashierID string, payments []PaymentInput) *domain.Invoice {
	now := time.Now().UTC()

	invoice := &domain.Invoice{
		ID:         uuid.New().String(),
		Status:     domain.InvoiceStatusCompleted,
		CustomerID: customerID,
		CashierID:  cashierID,
		TaxRate:    s.taxRate,
		CreatedAt:  now,
	}

	for _, line := range cart.Lines {
		invoice.Lines = append(invoice.Lines, domain.InvoiceLine{
			ID:                 uuid.New().String(),
			InvoiceID:          invoice.ID,
			ProductID:          line.ProductID,
			Description:        line.Description,
			Quantity:           line.Quantity,
			UnitPriceCents:     line.UnitPriceCents,
			DiscountPercentage: line.DiscountPercentage,
		})
	}
	invoice.ComputeTotals()

	for _, p := range payments {
		invoice.Payments = append(invoice.Payments, domain.Payment{
			ID:          uuid.New().String(),
			InvoiceID:   invoice.ID,
			Method:      domain.PaymentMethod(p.Method),
			AmountCents: p.AmountCents,
			Reference:   p.Reference,
			CreatedAt:   now,
		})
	}

	return invoice
}

// nextInvoiceNumber asks the numbering service for the next number and falls
// back to a timestamp-derived one when it is unavailable.
func (s *SaleService) nextInvoiceNumber(ctx context.Context) string {
	number, err := s.numbering.NextNumber(ctx, invoiceSeries)
	if err != nil {
		fallback := client.FallbackNumber(time.Now().UTC())
		s.logger.WarnContext(ctx, "numbering service unavailable, using fallback invoice number",
			slog.String("fallback", fallback),
			slog.String("error", err.Error()),
		)
		return fallback
	}
	return number
}

// finalizeTx writes the invoice, its lines and payments, re-validates every
// line against the live catalog and expiration state, and consumes the cart's
// reservations, all in a single transaction. The add-to-cart checks are stale
// by the time the till closes the sale, so each product's active flag and the
// expired-lot ceiling are checked again under the row lock. Returns the
// post-sale stock records for event publication.
func (s *SaleService) finalizeTx(ctx context.Context, invoice *domain.Invoice) ([]domain.StockRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin finalize transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertInvoice := `
		INSERT INTO invoices (id, number, status, customer_id, cashier_id, subtotal_cents, tax_rate, tax_cents, total_cents, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`

	if _, err := tx.Exec(ctx, insertInvoice,
		invoice.ID, invoice.Number, invoice.Status, invoice.CustomerID, invoice.CashierID,
		invoice.SubtotalCents, invoice.TaxRate, invoice.TaxCents, invoice.TotalCents, invoice.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	insertLine := `
		INSERT INTO invoice_lines (id, invoice_id, product_id, description, quantity, unit_price_cents, discount_percentage, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertPayment := `
		INSERT INTO invoice_payments (id, invoice_id, method, amount_cents, reference, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`

	productActive := `
		SELECT active
		FROM products
		WHERE id = $1`

	lockStock := `
		SELECT quantity, reserved
		FROM stock_records
		WHERE product_id = $1
		FOR UPDATE`

	expiredStock := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM product_lots
		WHERE product_id = $1 AND expires_at <= NOW()`

	consumeStock := `
		UPDATE stock_records
		SET quantity = quantity - $1, reserved = reserved - $1, last_update_by = NULLIF($2, ''), updated_at = NOW()
		WHERE product_id = $3`

	updated := make([]domain.StockRecord, 0, len(invoice.Lines))

	for _, line := range invoice.Lines {
		if _, err := tx.Exec(ctx, insertLine,
			line.ID, line.InvoiceID, line.ProductID, line.Description,
			line.Quantity, line.UnitPriceCents, line.DiscountPercentage, line.TotalCents,
		); err != nil {
			return nil, fmt.Errorf("insert invoice line: %w", err)
		}

		var active bool
		if err := tx.QueryRow(ctx, productActive, line.ProductID).Scan(&active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NotFound("product", line.ProductID)
			}
			return nil, fmt.Errorf("check product: %w", err)
		}
		if !active {
			return nil, apperrors.Conflict(fmt.Sprintf("product %s is no longer active", line.ProductID))
		}

		var stockQuantity, stockReserved int
		if err := tx.QueryRow(ctx, lockStock, line.ProductID).Scan(&stockQuantity, &stockReserved); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NotFound("stock record", line.ProductID)
			}
			return nil, fmt.Errorf("lock stock record: %w", err)
		}

		// The cart holds one reservation per unit in the line. Anything
		// less means the holds were lost, and selling without them could
		// oversell, so the whole sale rolls back.
		if stockReserved < line.Quantity {
			return nil, apperrors.InvariantViolation(fmt.Sprintf(
				"product %s: reserved %d below line quantity %d", line.ProductID, stockReserved, line.Quantity,
			))
		}

		// Lots can expire between add-to-cart and commit. The hold covers
		// the units but not their freshness, so the non-expired on-hand
		// quantity must still cover the line.
		if !s.allowExpiredSales {
			var expired int
			if err := tx.QueryRow(ctx, expiredStock, line.ProductID).Scan(&expired); err != nil {
				return nil, fmt.Errorf("sum expired lots: %w", err)
			}
			if sellable := stockQuantity - expired; sellable < line.Quantity {
				if sellable < 0 {
					sellable = 0
				}
				return nil, apperrors.InsufficientStock(line.ProductID, line.Quantity, sellable)
			}
		}

		if _, err := tx.Exec(ctx, consumeStock, line.Quantity, invoice.CashierID, line.ProductID); err != nil {
			return nil, fmt.Errorf("consume stock: %w", err)
		}

		// One audit entry for the on-hand decrement, one for the hold
		// release, both inside the sale transaction.
		if err := postgres.InsertAuditTx(ctx, tx, &domain.AuditEntry{
			ProductID:        line.ProductID,
			MovementType:     domain.MovementSale,
			QuantityChange:   -line.Quantity,
			PreviousQuantity: stockQuantity,
			NewQuantity:      stockQuantity - line.Quantity,
			Reference:        invoice.Number,
			PerformedBy:      invoice.CashierID,
		}); err != nil {
			return nil, err
		}
		if err := postgres.InsertAuditTx(ctx, tx, &domain.AuditEntry{
			ProductID:        line.ProductID,
			MovementType:     domain.MovementRelease,
			QuantityChange:   -line.Quantity,
			PreviousQuantity: stockReserved,
			NewQuantity:      stockReserved - line.Quantity,
			Reference:        invoice.Number,
			PerformedBy:      invoice.CashierID,
		}); err != nil {
			return nil, err
		}

		updated = append(updated, domain.StockRecord{
			ProductID: line.ProductID,
			Quantity:  stockQuantity - line.Quantity,
			Reserved:  stockReserved - line.Quantity,
		})
	}

	for _, payment := range invoice.Payments {
		if _, err := tx.Exec(ctx, insertPayment,
			payment.ID, payment.InvoiceID, payment.Method, payment.AmountCents,
			payment.Reference, payment.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert invoice payment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize transaction: %w", err)
	}

	return updated, nil
}
