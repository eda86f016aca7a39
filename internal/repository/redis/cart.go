package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/salepoint/salepoint/internal/domain"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

const (
	keyPrefix   = "cart:"
	holdsPrefix = "cart:holds:"
)

// CartRepository stores open cart sessions in Redis as JSON blobs with a TTL.
// The TTL is a safety net against leaked sessions, not the abandonment
// mechanism: held reservations must be released through the cart service
// before the session disappears. Because an expired session would otherwise
// take the only record of its holds with it, the lines are mirrored into a
// holds key without a TTL; a session key that is gone while its holds key
// remains marks reservations that leaked and need releasing.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

func cartKey(id string) string {
	return keyPrefix + id
}

func holdsKey(id string) string {
	return holdsPrefix + id
}

// Save upserts the cart session, refreshes its TTL and mirrors the lines into
// the holds key.
func (r *CartRepository) Save(ctx context.Context, cart *domain.CartSession) error {
	cart.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart session: %w", err)
	}

	if err := r.client.Set(ctx, cartKey(cart.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save cart session: %w", err)
	}

	if err := r.UpdateHolds(ctx, cart.ID, cart.Lines); err != nil {
		return err
	}

	return nil
}

// GetByID fetches a cart session by ID.
func (r *CartRepository) GetByID(ctx context.Context, id string) (*domain.CartSession, error) {
	data, err := r.client.Get(ctx, cartKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart session", id)
		}
		return nil, fmt.Errorf("get cart session: %w", err)
	}

	var cart domain.CartSession
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart session: %w", err)
	}

	return &cart, nil
}

// Delete removes a cart session and its holds mirror. Deleting a missing
// session is not an error.
func (r *CartRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, cartKey(id), holdsKey(id)).Err(); err != nil {
		return fmt.Errorf("delete cart session: %w", err)
	}
	return nil
}

// UpdateHolds rewrites the holds mirror for a session. An empty line set
// removes the key.
func (r *CartRepository) UpdateHolds(ctx context.Context, id string, lines []domain.CartLine) error {
	if len(lines) == 0 {
		if err := r.client.Del(ctx, holdsKey(id)).Err(); err != nil {
			return fmt.Errorf("delete cart holds: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal cart holds: %w", err)
	}
	if err := r.client.Set(ctx, holdsKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("save cart holds: %w", err)
	}
	return nil
}

// OrphanedSessions returns the sessions whose cart key expired while their
// holds mirror remains: reservations nothing will release through the normal
// cart flow.
func (r *CartRepository) OrphanedSessions(ctx context.Context) ([]domain.CartSession, error) {
	var orphans []domain.CartSession

	iter := r.client.Scan(ctx, 0, holdsPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), holdsPrefix)

		exists, err := r.client.Exists(ctx, cartKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("check cart session: %w", err)
		}
		if exists > 0 {
			continue
		}

		data, err := r.client.Get(ctx, holdsKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get cart holds: %w", err)
		}

		var lines []domain.CartLine
		if err := json.Unmarshal(data, &lines); err != nil {
			return nil, fmt.Errorf("unmarshal cart holds: %w", err)
		}

		orphans = append(orphans, domain.CartSession{
			ID:     id,
			Status: domain.CartStatusAbandoned,
			Lines:  lines,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cart holds: %w", err)
	}

	return orphans, nil
}
