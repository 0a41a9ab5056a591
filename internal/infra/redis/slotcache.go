package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const defaultSlotCacheTTL = 15 * time.Minute

// SlotCache keeps each tenant's ranked recovery slots in Redis so schedule
// computations across workers share one aggregation.
type SlotCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewSlotCache(client *goredis.Client, ttl time.Duration) (*SlotCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultSlotCacheTTL
	}
	return &SlotCache{client: client, ttl: ttl}, nil
}

// Get reports whether slots for tenantID were cached. An empty cached list is
// a hit.
func (c *SlotCache) Get(ctx context.Context, tenantID string) ([]domain.TimeSlot, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(tenantID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read slot cache: %w", err)
	}

	var slots []domain.TimeSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached slots: %w", err)
	}
	return slots, true, nil
}

func (c *SlotCache) Set(ctx context.Context, tenantID string, slots []domain.TimeSlot) error {
	if slots == nil {
		slots = []domain.TimeSlot{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode slots: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(tenantID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write slot cache: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, slotKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate slot cache: %w", err)
	}
	return nil
}

func slotKey(tenantID string) string {
	return "dunning:slots:" + tenantID
}
