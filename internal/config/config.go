package config

import (
	"fmt"
	"time"

	"github.com/salepoint/salepoint/pkg/config"
	"github.com/salepoint/salepoint/pkg/database"
)

// Config holds all service configuration, loaded from environment variables.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"salepoint"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"salepoint"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,unset"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"salepoint"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`

	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD,unset"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	CartTTL       time.Duration `env:"CART_TTL" envDefault:"12h"`

	// CartSweepInterval controls how often expired cart sessions are
	// checked for reservations that were never released.
	CartSweepInterval time.Duration `env:"CART_SWEEP_INTERVAL" envDefault:"5m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`

	JWTSecret string `env:"JWT_SECRET,unset"`

	NumberingServiceURL string `env:"NUMBERING_SERVICE_URL" envDefault:"http://localhost:8081"`
	PrinterServiceURL   string `env:"PRINTER_SERVICE_URL" envDefault:"http://localhost:8082"`

	// TaxRate is the fraction applied to the invoice subtotal, e.g. 0.17.
	TaxRate float64 `env:"SALE_TAX_RATE" envDefault:"0"`

	// AllowExpiredSales stops expired lots from shrinking the reservation
	// ceiling. Store policy for short-dated goods.
	AllowExpiredSales bool `env:"STOCK_ALLOW_EXPIRED_SALES" envDefault:"false"`

	FinalizeRPS   float64 `env:"FINALIZE_RATE_LIMIT_RPS" envDefault:"5"`
	FinalizeBurst int     `env:"FINALIZE_RATE_LIMIT_BURST" envDefault:"10"`

	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingSample   float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1.0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TaxRate < 0 || c.TaxRate >= 1 {
		return fmt.Errorf("SALE_TAX_RATE must be in [0, 1), got %f", c.TaxRate)
	}
	if c.FinalizeRPS <= 0 || c.FinalizeBurst <= 0 {
		return fmt.Errorf("finalize rate limit settings must be positive")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.CartSweepInterval <= 0 {
		return fmt.Errorf("CART_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// PostgresConfig builds the database pool configuration.
func (c *Config) PostgresConfig() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPassword,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSLMode,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        c.PostgresMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}
