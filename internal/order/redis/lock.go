package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-tickets/internal/logger"
)

const (
	eventKeyPrefix   = "stripe_event:"
	sessionKeyPrefix = "session_order:"

	claimProcessing = "processing"
	claimDone       = "done"

	defaultIdempotencyTTL = 72 * time.Hour
	defaultProcessingTTL  = 5 * time.Minute
	defaultSessionTTL     = 24 * time.Hour
)

// Redis guards webhook processing against duplicate deliveries and caches
// the session to order mapping read by the confirmation page.
type Redis struct {
	Client         *redis.Client
	Logger         *logger.Logger
	IdempotencyTTL time.Duration
	// ProcessingTTL bounds an in-flight claim so a crashed worker does not
	// block provider retries for the whole idempotency window.
	ProcessingTTL time.Duration
	SessionTTL    time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.NewNop()
	}
	return &Redis{
		Client:         client,
		Logger:         log,
		IdempotencyTTL: defaultIdempotencyTTL,
		ProcessingTTL:  defaultProcessingTTL,
		SessionTTL:     defaultSessionTTL,
	}
}

func (r *Redis) idempotencyTTL() time.Duration {
	if r.IdempotencyTTL <= 0 {
		return defaultIdempotencyTTL
	}
	return r.IdempotencyTTL
}

func (r *Redis) processingTTL() time.Duration {
	if r.ProcessingTTL <= 0 {
		return defaultProcessingTTL
	}
	return r.ProcessingTTL
}

func (r *Redis) sessionTTL() time.Duration {
	if r.SessionTTL <= 0 {
		return defaultSessionTTL
	}
	return r.SessionTTL
}

// ClaimEvent marks a webhook event as in flight until ProcessingTTL runs
// out. False means another delivery of the same event already claimed or
// finished it.
func (r *Redis) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, eventKeyPrefix+eventID, claimProcessing, r.processingTTL()).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// CompleteEvent records that the event was fully processed and keeps it
// claimed for IdempotencyTTL.
func (r *Redis) CompleteEvent(ctx context.Context, eventID string) error {
	return r.Client.Set(ctx, eventKeyPrefix+eventID, claimDone, r.idempotencyTTL()).Err()
}

// ReleaseEvent drops an in-flight claim so a provider retry can run again.
// Completed events stay claimed.
func (r *Redis) ReleaseEvent(ctx context.Context, eventID string) error {
	key := eventKeyPrefix + eventID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released
	}
	if err != nil {
		return err
	}
	if val == claimProcessing {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// EventDone reports whether the event finished processing.
func (r *Redis) EventDone(ctx context.Context, eventID string) (bool, error) {
	val, err := r.Client.Get(ctx, eventKeyPrefix+eventID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == claimDone, nil
}
