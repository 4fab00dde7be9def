package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/tracking"
	"github.com/redis/go-redis/v9"
)

// TrackingCache caches the public tracking view. The ledger stays the source
// of truth; every write path invalidates the key.
type TrackingCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *TrackingCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLTracking
}

// Get returns ok=false on a miss.
func (c *TrackingCache) Get(ctx context.Context, orderID string) (tracking.OrderTracking, bool, error) {
	var out tracking.OrderTracking
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyTracking, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (c *TrackingCache) Set(ctx context.Context, t tracking.OrderTracking) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyTracking, t.OrderID), b, c.ttl()).Err()
}

func (c *TrackingCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyTracking, orderID)).Err()
}
