package service

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgrepo "github.com/salepoint/salepoint/internal/repository/postgres"
	"github.com/salepoint/salepoint/migrations"
	"github.com/salepoint/salepoint/pkg/database"
)

// TestLedgerConcurrentReserveNoOversell hammers Reserve from many goroutines
// against a real database and verifies the row lock keeps the reserved count
// at or below the on-hand quantity. Requires TEST_DATABASE_URL.
func TestLedgerConcurrentReserveNoOversell(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS, newTestLogger()))

	productID := uuid.New().String()
	_, err = pool.Exec(ctx,
		"INSERT INTO products (id, sku, name, unit_price_cents, active) VALUES ($1, $2, $3, 100, TRUE)",
		productID, "SKU-"+productID[:8], "concurrency test product")
	require.NoError(t, err)

	stockRepo := pgrepo.NewStockRepository(pool)
	lotRepo := pgrepo.NewLotRepository(pool)
	svc := NewLedgerService(stockRepo, lotRepo, pool, stubStockPublisher{}, newTestLogger(), false)

	const onHand = 10
	const workers = 50

	_, err = svc.CreateRecord(ctx, productID, onHand, 0, 0, "it-test")
	require.NoError(t, err)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.Reserve(ctx, productID, 1, "it-test", "it-test")
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(onHand), granted.Load())

	record, err := stockRepo.GetByProductID(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, onHand, record.Reserved)
	assert.LessOrEqual(t, record.Reserved, record.Quantity)

	_, total, err := stockRepo.ListAudit(ctx, productID, 100, 0)
	require.NoError(t, err)
	// One creation entry plus one reservation entry per granted hold.
	assert.Equal(t, onHand+1, total)
}
