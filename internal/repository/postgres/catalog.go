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

// ProductRepository is the PostgreSQL implementation of the catalog view.
type ProductRepository struct {
	db database.DBTX
}

// NewProductRepository creates a product repository backed by the given pool.
func NewProductRepository(db database.DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID fetches a product by ID.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, sku, name, unit_price_cents, active, created_at, updated_at
		FROM products
		WHERE id = $1`

	var p domain.Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.SKU, &p.Name, &p.UnitPriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// Create inserts a new catalog product.
func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	now := time.Now().UTC()
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO products (id, sku, name, unit_price_cents, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.db.Exec(ctx, query,
		product.ID, product.SKU, product.Name, product.UnitPriceCents, product.Active,
		product.CreatedAt, product.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.AlreadyExists("product", product.SKU)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

// LotRepository is the PostgreSQL implementation of expiration lot tracking.
type LotRepository struct {
	db database.DBTX
}

// NewLotRepository creates a lot repository backed by the given pool.
func NewLotRepository(db database.DBTX) *LotRepository {
	return &LotRepository{db: db}
}

// Add records a new dated batch for a product.
func (r *LotRepository) Add(ctx context.Context, lot *domain.ExpirationLot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO product_lots (id, product_id, lot_code, quantity, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.Exec(ctx, query,
		lot.ID, lot.ProductID, lot.LotCode, lot.Quantity, lot.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert product lot: %w", err)
	}

	return nil
}

// ListByProduct returns all lots for a product ordered by expiry.
func (r *LotRepository) ListByProduct(ctx context.Context, productID string) ([]domain.ExpirationLot, error) {
	query := `
		SELECT id, product_id, lot_code, quantity, expires_at
		FROM product_lots
		WHERE product_id = $1
		ORDER BY expires_at`

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list product lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.ExpirationLot
	for rows.Next() {
		var l domain.ExpirationLot
		if err := rows.Scan(&l.ID, &l.ProductID, &l.LotCode, &l.Quantity, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan product lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lot rows: %w", err)
	}

	return lots, nil
}

// ExpiredQuantity sums the units in lots past their expiry date at the given
// instant. Expired units are subtracted from the reservation ceiling until an
// adjustment removes them from stock.
func (r *LotRepository) ExpiredQuantity(ctx context.Context, productID string, now time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM product_lots
		WHERE product_id = $1 AND expires_at <= $2`

	var expired int
	if err := r.db.QueryRow(ctx, query, productID, now).Scan(&expired); err != nil {
		return 0, fmt.Errorf("sum expired lots: %w", err)
	}

	return expired, nil
}
