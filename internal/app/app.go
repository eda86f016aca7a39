package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/salepoint/salepoint/internal/client"
	"github.com/salepoint/salepoint/internal/config"
	"github.com/salepoint/salepoint/internal/event"
	handlerhttp "github.com/salepoint/salepoint/internal/handler/http"
	pgrepo "github.com/salepoint/salepoint/internal/repository/postgres"
	redisrepo "github.com/salepoint/salepoint/internal/repository/redis"
	"github.com/salepoint/salepoint/internal/service"
	"github.com/salepoint/salepoint/migrations"
	"github.com/salepoint/salepoint/pkg/database"
	"github.com/salepoint/salepoint/pkg/health"
	"github.com/salepoint/salepoint/pkg/httpclient"
	"github.com/salepoint/salepoint/pkg/kafka"
	"github.com/salepoint/salepoint/pkg/middleware"
	"github.com/salepoint/salepoint/pkg/tracing"
)

// App owns every long-lived dependency and the HTTP server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	producer    *kafka.Producer
	server      *http.Server
	carts       *service.CartService

	shutdownTracer func(context.Context) error
}

// New builds the application: connections, repositories, services, handlers.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	shutdownTracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRatio: cfg.TracingSample,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	producer := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	events := event.NewProducer(producer, logger)

	stockRepo := pgrepo.NewStockRepository(pool)
	lotRepo := pgrepo.NewLotRepository(pool)
	productRepo := pgrepo.NewProductRepository(pool)
	invoiceRepo := pgrepo.NewInvoiceRepository(pool)
	cartRepo := redisrepo.NewCartRepository(redisClient, cfg.CartTTL)

	httpDoer := httpclient.New(httpclient.DefaultConfig())
	numberingDoer := httpclient.NewCircuitBreakerClient(
		httpDoer, httpclient.DefaultCircuitBreakerConfig("numbering"), nil, logger,
	)
	printerDoer := httpclient.NewCircuitBreakerClient(
		httpDoer, httpclient.DefaultCircuitBreakerConfig("printer"), nil, logger,
	)
	numbering := client.NewNumberingClient(numberingDoer, cfg.NumberingServiceURL, logger)
	printer := client.NewPrinterClient(printerDoer, cfg.PrinterServiceURL, logger)

	ledger := service.NewLedgerService(stockRepo, lotRepo, pool, events, logger, cfg.AllowExpiredSales)
	carts := service.NewCartService(cartRepo, productRepo, ledger, events, logger)
	sales := service.NewSaleService(cartRepo, invoiceRepo, pool, events, numbering, printer, logger, cfg.TaxRate, cfg.AllowExpiredSales)
	catalog := service.NewCatalogService(productRepo, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", producer.Ping)
	healthHandler.RegisterNonCritical("numbering", func(ctx context.Context) error {
		return httpclient.Ping(ctx, httpDoer, cfg.NumberingServiceURL+"/healthz")
	})
	healthHandler.RegisterNonCritical("printer", func(ctx context.Context) error {
		return httpclient.Ping(ctx, httpDoer, cfg.PrinterServiceURL+"/healthz")
	})

	router := handlerhttp.NewRouter(handlerhttp.RouterConfig{
		Stock:         handlerhttp.NewStockHandler(ledger, logger),
		Cart:          handlerhttp.NewCartHandler(carts, sales, logger),
		Sale:          handlerhttp.NewSaleHandler(sales, catalog, logger),
		Health:        healthHandler,
		Logger:        logger,
		TokenValidate: middleware.NewJWTValidator(cfg.JWTSecret),
		FinalizeRPS:   cfg.FinalizeRPS,
		FinalizeBurst: cfg.FinalizeBurst,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		server:         server,
		carts:          carts,
		shutdownTracer: shutdownTracer,
	}, nil
}

// sweepExpiredCarts periodically releases reservations stranded by cart
// sessions that hit their TTL without being finalized or abandoned.
func (a *App) sweepExpiredCarts(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CartSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.carts.ReleaseExpired(ctx); err != nil {
				a.logger.Error("expired cart sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Run serves HTTP until the context is canceled, then shuts down in
// dependency order: drain HTTP, flush the tracer, close the producer, then
// the stores.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go a.sweepExpiredCarts(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close failed", slog.String("error", err.Error()))
	}

	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close failed", slog.String("error", err.Error()))
	}

	a.pool.Close()

	a.logger.Info("shutdown complete")
	return nil
}
