package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "salepoint", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.AllowExpiredSales)
	assert.Equal(t, 0.0, cfg.TaxRate)
	assert.Equal(t, "5m0s", cfg.CartSweepInterval.String())
}

func TestLoadRejectsNonPositiveSweepInterval(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_SWEEP_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadTaxRate(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SALE_TAX_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SALE_TAX_RATE", "0.17")
	t.Setenv("STOCK_ALLOW_EXPIRED_SALES", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CART_TTL", "30m")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 0.17, cfg.TaxRate)
	assert.True(t, cfg.AllowExpiredSales)
	assert.Len(t, cfg.KafkaBrokers, 2)
	assert.Equal(t, "30m0s", cfg.CartTTL.String())
}
