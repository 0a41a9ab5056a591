package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultChargesPerWindow int64 = 25
	defaultWindow                 = time.Second
	minRetryAfter                 = 5 * time.Millisecond
	maxRetryAfter                 = time.Second
)

// reserveScript counts one charge in the tenant's current window and
// returns {count, pttl}. The window key expires on its own.
var reserveScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// Decision is the outcome of one reservation against a tenant's window.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisRateLimiter caps gateway charges per tenant in fixed windows shared
// by every engine instance.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, chargesPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(chargesPerSec), defaultWindow, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int64,
	window time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultChargesPerWindow
	}
	if window <= 0 {
		window = defaultWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

// Reserve counts a charge for tenantID and reports whether it fits the
// current window. A rejected reservation still occupies a slot until the
// window rolls over.
func (r *RedisRateLimiter) Reserve(ctx context.Context, tenantID string) (Decision, error) {
	if r == nil || r.client == nil {
		return Decision{}, fmt.Errorf("rate limiter is not initialized")
	}
	tenant := strings.TrimSpace(tenantID)
	if tenant == "" {
		return Decision{}, fmt.Errorf("tenant id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := reserveScript.Run(ctx, r.client, []string{r.windowKey(tenant)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reserve gateway slot: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", res)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count <= r.limit {
		return Decision{Allowed: true, Remaining: r.limit - count}, nil
	}
	return Decision{RetryAfter: clampRetryAfter(ttl)}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	d, err := r.Reserve(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Wait blocks until the tenant has charge capacity or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, tenantID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		d, err := r.Reserve(ctx, tenantID)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		if err := r.sleep(ctx, d.RetryAfter); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) windowKey(tenant string) string {
	slot := r.now().UTC().UnixMilli() / r.window.Milliseconds()
	return fmt.Sprintf("ratelimit:gateway:%s:%d", tenant, slot)
}

func clampRetryAfter(d time.Duration) time.Duration {
	switch {
	case d < minRetryAfter:
		return minRetryAfter
	case d > maxRetryAfter:
		return maxRetryAfter
	default:
		return d
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
