package ratelimit

import "context"

// RateLimiter bounds gateway charge throughput per tenant.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
	Wait(ctx context.Context, tenantID string) error
}
