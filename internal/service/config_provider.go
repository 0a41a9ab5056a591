package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const defaultConfigCacheTTL = time.Minute

// ConfigProvider is a read-through cache of tenant retry policies. Tenants
// without a stored policy get the default one provisioned on first read.
type ConfigProvider struct {
	repo   repository.ConfigRepository
	cache  *gocache.Cache
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewConfigProvider(repo repository.ConfigRepository, ttl time.Duration, logger *zap.Logger) (*ConfigProvider, error) {
	if repo == nil {
		return nil, fmt.Errorf("config repository is required")
	}
	if ttl <= 0 {
		ttl = defaultConfigCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConfigProvider{
		repo:   repo,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Get returns the tenant's policy. The returned value is shared and must not
// be modified.
func (p *ConfigProvider) Get(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
	if cached, ok := p.cache.Get(tenantID); ok {
		return cached.(*domain.RetryConfig), nil
	}

	cfg, err := p.repo.GetByTenant(ctx, tenantID)
	if errors.Is(err, domain.ErrConfigurationMissing) {
		cfg, err = p.provision(ctx, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load retry config for tenant %s: %w", tenantID, err)
	}

	cfg.Normalize()
	p.cache.Set(tenantID, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

// Invalidate drops a tenant's cached policy.
func (p *ConfigProvider) Invalidate(tenantID string) {
	p.cache.Delete(tenantID)
}

func (p *ConfigProvider) provision(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
	p.logger.Warn("retry config missing, provisioning defaults", zap.String("tenantId", tenantID))

	now := p.now().UTC()
	cfg := domain.DefaultRetryConfig(tenantID)
	cfg.ID = p.newID()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := p.repo.Create(ctx, cfg); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		// Another process provisioned it first.
		return p.repo.GetByTenant(ctx, tenantID)
	}
	return cfg, nil
}
