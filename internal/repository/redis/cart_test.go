package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salepoint/salepoint/internal/domain"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

func newTestRepo(t *testing.T) (*CartRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCartRepository(client, time.Hour), mr
}

func TestCartRepositorySaveAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	cart := &domain.CartSession{
		ID:         "c1",
		OperatorID: "op1",
		Status:     domain.CartStatusActive,
		Lines: []domain.CartLine{
			{ProductID: "p1", Quantity: 2, UnitPriceCents: 500},
		},
	}

	require.NoError(t, repo.Save(ctx, cart))

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "op1", got.OperatorID)
	assert.Equal(t, domain.CartStatusActive, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Quantity)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCartRepositoryGetMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCartRepositoryDelete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	cart := &domain.CartSession{ID: "c1", Status: domain.CartStatusActive}
	require.NoError(t, repo.Save(ctx, cart))
	require.NoError(t, repo.Delete(ctx, "c1"))

	_, err := repo.GetByID(ctx, "c1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	// Deleting again is a no-op.
	assert.NoError(t, repo.Delete(ctx, "c1"))
}

func TestCartRepositoryTTL(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.CartSession{ID: "c1"}))

	mr.FastForward(2 * time.Hour)

	_, err := repo.GetByID(ctx, "c1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCartRepositoryOrphanedSessionsSurviveTTL(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.CartSession{
		ID:     "c1",
		Status: domain.CartStatusActive,
		Lines: []domain.CartLine{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	}))
	// A second session that is still alive must not be reported.
	require.NoError(t, repo.Save(ctx, &domain.CartSession{
		ID:     "c2",
		Status: domain.CartStatusActive,
		Lines:  []domain.CartLine{{ProductID: "p3", Quantity: 5}},
	}))

	orphans, err := repo.OrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Expire c1 only; the holds mirror carries no TTL and keeps the lines.
	mr.FastForward(2 * time.Hour)
	require.NoError(t, repo.Save(ctx, &domain.CartSession{
		ID:     "c2",
		Status: domain.CartStatusActive,
		Lines:  []domain.CartLine{{ProductID: "p3", Quantity: 5}},
	}))

	orphans, err = repo.OrphanedSessions(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "c1", orphans[0].ID)
	assert.Equal(t, domain.CartStatusAbandoned, orphans[0].Status)
	require.Len(t, orphans[0].Lines, 2)
	assert.Equal(t, "p1", orphans[0].Lines[0].ProductID)
	assert.Equal(t, 2, orphans[0].Lines[0].Quantity)
}

func TestCartRepositoryUpdateHoldsClearsMirror(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.CartSession{
		ID:     "c1",
		Status: domain.CartStatusActive,
		Lines:  []domain.CartLine{{ProductID: "p1", Quantity: 2}},
	}))
	mr.FastForward(2 * time.Hour)

	require.NoError(t, repo.UpdateHolds(ctx, "c1", nil))

	orphans, err := repo.OrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestCartRepositoryDeleteRemovesHoldsMirror(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.CartSession{
		ID:     "c1",
		Status: domain.CartStatusActive,
		Lines:  []domain.CartLine{{ProductID: "p1", Quantity: 2}},
	}))
	require.NoError(t, repo.Delete(ctx, "c1"))

	orphans, err := repo.OrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
