package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salepoint/salepoint/pkg/health"
	"github.com/salepoint/salepoint/pkg/middleware"
)

// RouterConfig wires handlers and cross-cutting middleware into the router.
type RouterConfig struct {
	Stock  *StockHandler
	Cart   *CartHandler
	Sale   *SaleHandler
	Health *health.Handler

	Logger        *slog.Logger
	TokenValidate middleware.TokenValidator

	// FinalizeRPS throttles sale finalization per operator.
	FinalizeRPS   float64
	FinalizeBurst int
}

// NewRouter builds the HTTP routing tree. Health and metrics endpoints stay
// outside authentication so probes and scrapers do not need tokens.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("salepoint"))

	r.Get("/healthz", cfg.Health.LivenessHandler())
	r.Get("/readyz", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenValidate))

		r.Route("/products", func(r chi.Router) {
			r.Post("/", cfg.Sale.CreateProduct)
			r.Get("/{productID}", cfg.Sale.GetProduct)
		})

		r.Route("/stock", func(r chi.Router) {
			r.Post("/", cfg.Stock.Create)
			r.Get("/low", cfg.Stock.ListLowStock)
			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", cfg.Stock.Get)
				r.Put("/quantity", cfg.Stock.SetQuantity)
				r.Post("/reserve", cfg.Stock.Reserve)
				r.Post("/release", cfg.Stock.Release)
				r.Post("/lots", cfg.Stock.AddLot)
				r.Get("/audit", cfg.Stock.ListAudit)
			})
		})

		r.Route("/carts", func(r chi.Router) {
			r.Post("/", cfg.Cart.Create)
			r.Route("/{cartID}", func(r chi.Router) {
				r.Get("/", cfg.Cart.Get)
				r.Post("/items", cfg.Cart.AddItem)
				r.Delete("/items/{productID}", cfg.Cart.RemoveItem)
				r.Post("/abandon", cfg.Cart.Abandon)
				r.With(middleware.RateLimit(cfg.FinalizeRPS, cfg.FinalizeBurst)).
					Post("/finalize", cfg.Cart.Finalize)
			})
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/{invoiceID}", cfg.Sale.GetInvoice)
			r.Get("/number/{number}", cfg.Sale.GetInvoiceByNumber)
		})
	})

	return r
}
