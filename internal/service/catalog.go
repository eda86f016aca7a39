package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/repository"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// CatalogService manages the product catalog view used at the till.
type CatalogService struct {
	productRepo repository.ProductRepository
	logger      *slog.Logger
}

// NewCatalogService creates the catalog service.
func NewCatalogService(productRepo repository.ProductRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{productRepo: productRepo, logger: logger}
}

// CreateProduct registers a new sellable product.
func (s *CatalogService) CreateProduct(ctx context.Context, sku, name string, unitPriceCents int64) (*domain.Product, error) {
	if sku == "" {
		return nil, apperrors.InvalidInput("sku is required")
	}
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if unitPriceCents < 0 {
		return nil, apperrors.InvalidInput("unit_price_cents must be non-negative")
	}

	product := &domain.Product{
		SKU:            sku,
		Name:           name,
		UnitPriceCents: unitPriceCents,
		Active:         true,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.String("sku", sku),
	)

	return product, nil
}

// GetProduct fetches a product by ID.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.productRepo.GetByID(ctx, id)
}
