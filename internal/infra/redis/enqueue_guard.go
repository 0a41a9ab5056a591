package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultEnqueueGuardTTL = time.Hour

// EnqueueGuard makes sure one schedule of an attempt is published to the
// retry queue once, even when several scanners see it due.
type EnqueueGuard struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewEnqueueGuard(client *goredis.Client, ttl time.Duration) (*EnqueueGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultEnqueueGuardTTL
	}
	return &EnqueueGuard{client: client, ttl: ttl}, nil
}

// Acquire returns true for the first caller per (attempt, attempt number,
// due time).
func (g *EnqueueGuard) Acquire(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) (bool, error) {
	ok, err := g.client.SetNX(ctx, enqueueKey(attemptID, attemptNumber, dueAt), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire enqueue guard: %w", err)
	}
	return ok, nil
}

// Release lets the schedule be published again, e.g. after a failed publish.
func (g *EnqueueGuard) Release(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) error {
	if err := g.client.Del(ctx, enqueueKey(attemptID, attemptNumber, dueAt)).Err(); err != nil {
		return fmt.Errorf("failed to release enqueue guard: %w", err)
	}
	return nil
}

func enqueueKey(attemptID string, attemptNumber int, dueAt time.Time) string {
	return fmt.Sprintf("dunning:enqueued:%s:%d:%d", attemptID, attemptNumber, dueAt.UTC().Unix())
}
