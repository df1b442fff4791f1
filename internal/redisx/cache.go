package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderCache is the Redis fast path for idempotency keys and order status.
// Postgres stays the source of truth; a miss here only costs a query.
type OrderCache struct {
	RDB redis.Cmdable
	Now func() time.Time
}

func NewOrderCache(rdb redis.Cmdable) *OrderCache {
	return &OrderCache{RDB: rdb}
}

func (c *OrderCache) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c *OrderCache) LookupOrder(ctx context.Context, key string) (string, bool, error) {
	id, err := c.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (c *OrderCache) RememberOrder(ctx context.Context, key, orderID string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

type cachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *OrderCache) CacheStatus(ctx context.Context, orderID, status string) error {
	b, err := json.Marshal(cachedStatus{Status: status, UpdatedAt: c.now()})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Status returns the cached status of orderID, ok is false on a miss.
func (c *OrderCache) Status(ctx context.Context, orderID string) (string, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var s cachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false, fmt.Errorf("decode cached status of %s: %w", orderID, err)
	}
	return s.Status, true, nil
}
