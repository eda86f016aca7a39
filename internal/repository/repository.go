package repository

import (
	"context"
	"time"

	"github.com/salepoint/salepoint/internal/domain"
)

// StockRepository provides access to stock records and the audit trail.
// Reservation and sale mutations are transactional scripts owned by the
// services, not this interface.
type StockRepository interface {
	GetByProductID(ctx context.Context, productID string) (*domain.StockRecord, error)
	Create(ctx context.Context, record *domain.StockRecord, performedBy string) error
	SetQuantity(ctx context.Context, productID string, quantity int, performedBy string) (*domain.StockRecord, error)
	ListLowStock(ctx context.Context, threshold, limit, offset int) ([]domain.StockRecord, int, error)
	ListAudit(ctx context.Context, productID string, limit, offset int) ([]domain.AuditEntry, int, error)
}

// LotRepository tracks dated product batches used to compute expired quantity.
type LotRepository interface {
	Add(ctx context.Context, lot *domain.ExpirationLot) error
	ListByProduct(ctx context.Context, productID string) ([]domain.ExpirationLot, error)
	ExpiredQuantity(ctx context.Context, productID string, now time.Time) (int, error)
}

// ProductRepository is the catalog view needed at the point of sale.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, product *domain.Product) error
}

// InvoiceRepository reads finalized invoices. Invoice writes happen inside
// the sale finalization transaction.
type InvoiceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*domain.Invoice, error)
}

// CartRepository stores open cart sessions. The holds mirror survives the
// session TTL so expired sessions cannot silently strand their reservations;
// OrphanedSessions surfaces them for release.
type CartRepository interface {
	Save(ctx context.Context, cart *domain.CartSession) error
	GetByID(ctx context.Context, id string) (*domain.CartSession, error)
	Delete(ctx context.Context, id string) error
	UpdateHolds(ctx context.Context, id string, lines []domain.CartLine) error
	OrphanedSessions(ctx context.Context) ([]domain.CartSession, error)
}
