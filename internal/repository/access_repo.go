package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"gorm.io/gorm"
)

// GormAccessManager records account restrictions on the customer's contracts.
// Enforcement at the deadline belongs to a downstream sweeper.
type GormAccessManager struct {
	db *gorm.DB
}

func NewGormAccessManager(db *gorm.DB) *GormAccessManager {
	return &GormAccessManager{db: db}
}

// ScheduleSuspension flags every active contract of the customer as payment
// suspended from effectiveAt. It returns the number of contracts flagged.
func (m *GormAccessManager) ScheduleSuspension(ctx context.Context, customerID string, effectiveAt time.Time) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&ContractModel{}).
		Where("customer_id = ? AND status = ?", customerID, domain.ContractStatusActive).
		Updates(map[string]any{
			"payment_suspended":       true,
			"suspension_scheduled_at": effectiveAt,
		})
	return result.RowsAffected, result.Error
}

func (m *GormAccessManager) FlagDowngrade(ctx context.Context, customerID string, now time.Time) error {
	result := m.db.WithContext(ctx).
		Model(&CustomerModel{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"downgrade_flagged_at": now,
			"updated_at":           now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListContracts returns the customer's contracts, newest first.
func (m *GormAccessManager) ListContracts(ctx context.Context, customerID string) ([]domain.Contract, error) {
	var models []ContractModel
	err := m.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	contracts := make([]domain.Contract, 0, len(models))
	for i := range models {
		contracts = append(contracts, *contractModelToDomain(&models[i]))
	}
	return contracts, nil
}
