package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// CacheSessionOrder remembers which order a checkout session resolved to.
func (r *Redis) CacheSessionOrder(ctx context.Context, sessionID, orderID string) error {
	if sessionID == "" || orderID == "" {
		return nil
	}
	if err := r.Client.Set(ctx, sessionKeyPrefix+sessionID, orderID, r.sessionTTL()).Err(); err != nil {
		return fmt.Errorf("cache session %s: %w", sessionID, err)
	}
	return nil
}

// SessionOrder returns the cached order id, or "" with ok=false on a miss.
func (r *Redis) SessionOrder(ctx context.Context, sessionID string) (string, bool, error) {
	orderID, err := r.Client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}
