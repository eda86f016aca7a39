package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/internal/service"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
	"github.com/salepoint/salepoint/pkg/httputil"
	"github.com/salepoint/salepoint/pkg/middleware"
	"github.com/salepoint/salepoint/pkg/validator"
)

// CartSessionService is the cart surface the handler depends on.
type CartSessionService interface {
	Create(ctx context.Context, operatorID, customerID string) (*domain.CartSession, error)
	Get(ctx context.Context, cartID string) (*domain.CartSession, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int, discount float64, performedBy string) (*domain.CartSession, error)
	RemoveItem(ctx context.Context, cartID, productID string, quantity int, performedBy string) (*domain.CartSession, error)
	Abandon(ctx context.Context, cartID, performedBy string) error
}

// FinalizationService turns carts into invoices.
type FinalizationService interface {
	Finalize(ctx context.Context, cartID, customerID, cashierID string, payments []service.PaymentInput) (*domain.Invoice, error)
}

// CartHandler exposes cart sessions and sale finalization over HTTP.
type CartHandler struct {
	carts  CartSessionService
	sales  FinalizationService
	logger *slog.Logger
}

// NewCartHandler creates the cart HTTP handler.
func NewCartHandler(carts CartSessionService, sales FinalizationService, logger *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, sales: sales, logger: logger}
}

type createCartRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
}

// Create opens a new cart session for the authenticated operator.
func (h *CartHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
			return
		}
	}

	cart, err := h.carts.Create(r.Context(), middleware.UserIDFromContext(r.Context()), req.CustomerID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: cart})
}

// Get fetches a cart session.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Get(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

type addItemRequest struct {
	ProductID          string  `json:"product_id" validate:"required"`
	Quantity           int     `json:"quantity" validate:"required,gt=0"`
	DiscountPercentage float64 `json:"discount_percentage" validate:"gte=0,lte=100"`
}

// AddItem reserves stock and adds the product to the cart.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.carts.AddItem(r.Context(), cartID, req.ProductID, req.Quantity, req.DiscountPercentage, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem releases held stock and removes units from the cart. Without a
// quantity query parameter the whole line is removed.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	productID := chi.URLParam(r, "productID")

	quantity := 0
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			httputil.WriteError(w, r, apperrors.InvalidInput("quantity must be a positive integer"), h.logger)
			return
		}
		quantity = v
	} else {
		cart, err := h.carts.Get(r.Context(), cartID)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		line := cart.LineFor(productID)
		if line == nil {
			httputil.WriteError(w, r, apperrors.NotFound("cart line", productID), h.logger)
			return
		}
		quantity = line.Quantity
	}

	cart, err := h.carts.RemoveItem(r.Context(), cartID, productID, quantity, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// Abandon releases every hold in the cart and removes the session.
func (h *CartHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	if err := h.carts.Abandon(r.Context(), cartID, middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type finalizeRequest struct {
	CustomerID string                 `json:"customer_id,omitempty"`
	Payments   []service.PaymentInput `json:"payments" validate:"required,min=1,dive"`
}

// Finalize turns the cart into a completed invoice.
func (h *CartHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	invoice, err := h.sales.Finalize(r.Context(), cartID, req.CustomerID, middleware.UserIDFromContext(r.Context()), req.Payments)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: invoice})
}
