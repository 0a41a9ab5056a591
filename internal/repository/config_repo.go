package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"gorm.io/gorm"
)

type ConfigRepository interface {
	GetByTenant(ctx context.Context, tenantID string) (*domain.RetryConfig, error)
	Create(ctx context.Context, c *domain.RetryConfig) error
}

type GormConfigRepo struct {
	db *gorm.DB
}

func NewGormConfigRepo(db *gorm.DB) *GormConfigRepo {
	return &GormConfigRepo{db: db}
}

// GetByTenant returns domain.ErrConfigurationMissing when the tenant has no
// stored policy.
func (r *GormConfigRepo) GetByTenant(ctx context.Context, tenantID string) (*domain.RetryConfig, error) {
	var model RetryConfigModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: tenant %s", domain.ErrConfigurationMissing, tenantID)
	}
	if err != nil {
		return nil, err
	}

	cfg := retryConfigModelToDomain(&model)
	cfg.Normalize()
	return cfg, nil
}

func (r *GormConfigRepo) Create(ctx context.Context, c *domain.RetryConfig) error {
	model := retryConfigModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: tenant %s already has a retry config", domain.ErrConflict, c.TenantID)
		}
		return err
	}
	if c != nil {
		*c = *retryConfigModelToDomain(model)
	}
	return nil
}
