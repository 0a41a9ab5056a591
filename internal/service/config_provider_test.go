package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"go.uber.org/zap"
)

func TestNewConfigProviderRequiresRepository(t *testing.T) {
	t.Parallel()

	if _, err := NewConfigProvider(nil, time.Minute, zap.NewNop()); err == nil {
		t.Fatal("expected error for nil repository")
	}
}

func TestConfigProviderProvisionsDefaults(t *testing.T) {
	t.Parallel()

	var created *domain.RetryConfig
	repo := &fakeConfigRepo{
		createFn: func(ctx context.Context, c *domain.RetryConfig) error {
			created = c
			return nil
		},
	}
	provider, err := NewConfigProvider(repo, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConfigProvider() error = %v", err)
	}

	cfg, err := provider.Get(context.Background(), "tenant-new")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if created == nil {
		t.Fatal("expected default policy to be persisted")
	}
	if cfg.TenantID != "tenant-new" || cfg.ID == "" {
		t.Fatalf("cfg = tenant %q id %q", cfg.TenantID, cfg.ID)
	}
	if cfg.MaxRetries != 4 || len(cfg.RetryIntervalDays) != 4 {
		t.Fatalf("cfg = %d retries %v, want the default policy", cfg.MaxRetries, cfg.RetryIntervalDays)
	}
}

func TestConfigProviderProvisionRaceReReads(t *testing.T) {
	t.Parallel()

	stored := domain.DefaultRetryConfig("tenant-1")
	stored.MaxRetries = 2
	stored.RetryIntervalDays = []int{5}
	reads := 0
	repo := &fakeConfigRepo{
		getByTenantFn: func(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
			reads++
			if reads == 1 {
				return nil, domain.ErrConfigurationMissing
			}
			return stored, nil
		},
		createFn: func(ctx context.Context, c *domain.RetryConfig) error {
			return domain.ErrConflict
		},
	}
	provider, _ := NewConfigProvider(repo, time.Minute, zap.NewNop())

	cfg, err := provider.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("max retries = %d, want the concurrently stored 2", cfg.MaxRetries)
	}
	if len(cfg.RetryIntervalDays) != 2 || cfg.RetryIntervalDays[1] != 5 {
		t.Fatalf("intervals = %v, want padded [5 5]", cfg.RetryIntervalDays)
	}
}

func TestConfigProviderCachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	reads := 0
	repo := &fakeConfigRepo{
		getByTenantFn: func(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
			reads++
			return domain.DefaultRetryConfig(tenantID), nil
		},
	}
	provider, _ := NewConfigProvider(repo, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := provider.Get(ctx, "tenant-1"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if reads != 1 {
		t.Fatalf("repository reads = %d, want 1", reads)
	}

	provider.Invalidate("tenant-1")
	if _, err := provider.Get(ctx, "tenant-1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reads != 2 {
		t.Fatalf("repository reads after invalidate = %d, want 2", reads)
	}
}

func TestConfigProviderPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	repo := &fakeConfigRepo{
		getByTenantFn: func(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
			return nil, boom
		},
	}
	provider, _ := NewConfigProvider(repo, time.Minute, zap.NewNop())

	if _, err := provider.Get(context.Background(), "tenant-1"); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want %v", err, boom)
	}
}
