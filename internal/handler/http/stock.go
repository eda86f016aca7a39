package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/service"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
	"github.com/salepoint/salepoint/pkg/httputil"
	"github.com/salepoint/salepoint/pkg/middleware"
	"github.com/salepoint/salepoint/pkg/validator"
)

// StockService is the ledger surface the stock handler depends on.
type StockService interface {
	CreateRecord(ctx context.Context, productID string, quantity, minimumStock, reorderPoint int, performedBy string) (*domain.StockRecord, error)
	GetAvailability(ctx context.Context, productID string) (*service.Availability, error)
	SetQuantity(ctx context.Context, productID string, quantity int, performedBy string) (*domain.StockRecord, error)
	Reserve(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error)
	Release(ctx context.Context, productID string, quantity int, reference, performedBy string) (bool, error)
	AddLot(ctx context.Context, lot *domain.ExpirationLot) error
	ListLowStock(ctx context.Context, threshold, limit, offset int) ([]domain.StockRecord, int, error)
	ListAudit(ctx context.Context, productID string, limit, offset int) ([]domain.AuditEntry, int, error)
}

// StockHandler exposes the stock ledger over HTTP.
type StockHandler struct {
	ledger StockService
	logger *slog.Logger
}

// NewStockHandler creates the stock HTTP handler.
func NewStockHandler(ledger StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: logger}
}

type createStockRequest struct {
	ProductID    string `json:"product_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	MinimumStock int    `json:"minimum_stock" validate:"gte=0"`
	ReorderPoint int    `json:"reorder_point" validate:"gte=0"`
}

// Create seeds the stock ledger for a product.
func (h *StockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	record, err := h.ledger.CreateRecord(r.Context(), req.ProductID, req.Quantity,
		req.MinimumStock, req.ReorderPoint, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: record})
}

// Get returns the expiration-aware availability for a product.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	avail, err := h.ledger.GetAvailability(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: avail})
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// SetQuantity replaces the on-hand quantity after a count or correction.
func (h *StockHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	record, err := h.ledger.SetQuantity(r.Context(), productID, req.Quantity, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: record})
}

type reservationRequest struct {
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reference string `json:"reference,omitempty"`
}

type reservationResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reserved  bool   `json:"reserved"`
}

// Reserve places a hold on sellable units. A refusal maps to 409 so callers
// can distinguish contention from malformed requests.
func (h *StockHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ok, err := h.ledger.Reserve(r.Context(), productID, req.Quantity, req.Reference, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !ok {
		sellable := 0
		if avail, err := h.ledger.GetAvailability(r.Context(), productID); err == nil {
			sellable = avail.Sellable
		}
		httputil.WriteError(w, r, apperrors.InsufficientStock(productID, req.Quantity, sellable), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: reservationResponse{ProductID: productID, Quantity: req.Quantity, Reserved: true},
	})
}

// Release returns held units to the sellable pool.
func (h *StockHandler) Release(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ok, err := h.ledger.Release(r.Context(), productID, req.Quantity, req.Reference, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !ok {
		httputil.WriteError(w, r, apperrors.Conflict("release exceeds reserved count"), h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addLotRequest struct {
	LotCode   string    `json:"lot_code" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// AddLot records a dated batch for expiration tracking.
func (h *StockHandler) AddLot(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req addLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	lot := &domain.ExpirationLot{
		ProductID: productID,
		LotCode:   req.LotCode,
		Quantity:  req.Quantity,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.ledger.AddLot(r.Context(), lot); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: lot})
}

// ListLowStock lists products at or below the availability threshold. Without
// an explicit threshold each product is compared against its own minimum
// stock.
func (h *StockHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := queryInt(r, "threshold", -1)
	page, perPage := pagination(r)

	records, total, err := h.ledger.ListLowStock(r.Context(), threshold, perPage, (page-1)*perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(records, total, page, perPage))
}

// ListAudit lists the audit trail for a product, newest first.
func (h *StockHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	page, perPage := pagination(r)

	entries, total, err := h.ledger.ListAudit(r.Context(), productID, perPage, (page-1)*perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(entries, total, page, perPage))
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func pagination(r *http.Request) (page, perPage int) {
	page = queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage = queryInt(r, "per_page", 20)
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}
