package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/salepoint/salepoint/internal/domain"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
	"github.com/salepoint/salepoint/pkg/httputil"
	"github.com/salepoint/salepoint/pkg/validator"
)

// InvoiceReader fetches finalized invoices.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error)
}

// CatalogManager manages the product catalog.
type CatalogManager interface {
	CreateProduct(ctx context.Context, sku, name string, unitPriceCents int64) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// SaleHandler exposes finalized invoices and the catalog over HTTP.
type SaleHandler struct {
	sales   InvoiceReader
	catalog CatalogManager
	logger  *slog.Logger
}

// NewSaleHandler creates the sale HTTP handler.
func NewSaleHandler(sales InvoiceReader, catalog CatalogManager, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{sales: sales, catalog: catalog, logger: logger}
}

// GetInvoice fetches a finalized invoice by ID.
func (h *SaleHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.sales.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: invoice})
}

// GetInvoiceByNumber fetches a finalized invoice by its number.
func (h *SaleHandler) GetInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.sales.GetInvoiceByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: invoice})
}

type createProductRequest struct {
	SKU            string `json:"sku" validate:"required"`
	Name           string `json:"name" validate:"required"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
}

// CreateProduct registers a new sellable product.
func (h *SaleHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), req.SKU, req.Name, req.UnitPriceCents)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: product})
}

// GetProduct fetches a catalog product by ID.
func (h *SaleHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: product})
}
