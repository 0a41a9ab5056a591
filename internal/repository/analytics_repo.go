package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"gorm.io/gorm"
)

// SlotStat counts failure events and recovered ones for one (weekday, hour)
// bucket.
type SlotStat struct {
	DayOfWeek int   `gorm:"column:day_of_week"`
	HourOfDay int   `gorm:"column:hour_of_day"`
	Total     int64 `gorm:"column:total"`
	Recovered int64 `gorm:"column:recovered"`
}

// ReasonStat counts failure events and recovered ones for one failure reason.
type ReasonStat struct {
	Reason    string `gorm:"column:failure_reason"`
	Total     int64  `gorm:"column:total"`
	Recovered int64  `gorm:"column:recovered"`
}

type recordRow struct {
	FailureEventModel
	RecoveryAttemptNumber *int `gorm:"column:recovery_attempt_number"`
}

type AnalyticsRepository interface {
	AppendFailureEvent(ctx context.Context, e *domain.FailureEvent) error
	AppendRecoveryOutcome(ctx context.Context, o *domain.RecoveryOutcome) error
	SlotStats(ctx context.Context, tenantID string) ([]SlotStat, error)
	ReasonStats(ctx context.Context, tenantID string) ([]ReasonStat, error)
	ListRecords(ctx context.Context, invoiceID string) ([]domain.FailureAnalyticsRecord, error)
	CountFailuresByCustomer(ctx context.Context, customerID string) (int64, error)
}

type GormAnalyticsRepo struct {
	db *gorm.DB
}

func NewGormAnalyticsRepo(db *gorm.DB) *GormAnalyticsRepo {
	return &GormAnalyticsRepo{db: db}
}

// AppendFailureEvent inserts an immutable event. A second event for the same
// (attempt, charge number) is ErrConflict.
func (r *GormAnalyticsRepo) AppendFailureEvent(ctx context.Context, e *domain.FailureEvent) error {
	model := failureEventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: failure event for attempt %s charge %d", domain.ErrConflict, e.AttemptID, e.ChargeNumber)
		}
		return err
	}
	return nil
}

// AppendRecoveryOutcome records that an invoice was recovered. Only the first
// outcome per invoice is kept; later ones are ErrConflict.
func (r *GormAnalyticsRepo) AppendRecoveryOutcome(ctx context.Context, o *domain.RecoveryOutcome) error {
	model := &RecoveryOutcomeModel{
		ID:                    o.ID,
		TenantID:              o.TenantID,
		InvoiceID:             o.InvoiceID,
		AttemptID:             o.AttemptID,
		RecoveryAttemptNumber: o.RecoveryAttemptNumber,
		RecoveredAt:           o.RecoveredAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: invoice %s already recovered", domain.ErrConflict, o.InvoiceID)
		}
		return err
	}
	return nil
}

func (r *GormAnalyticsRepo) SlotStats(ctx context.Context, tenantID string) ([]SlotStat, error) {
	var stats []SlotStat
	err := r.db.WithContext(ctx).
		Table("failure_events AS e").
		Select("e.day_of_week, e.hour_of_day, COUNT(*) AS total, COUNT(o.id) AS recovered").
		Joins("LEFT JOIN recovery_outcomes o ON o.invoice_id = e.invoice_id").
		Where("e.tenant_id = ?", tenantID).
		Group("e.day_of_week, e.hour_of_day").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *GormAnalyticsRepo) ReasonStats(ctx context.Context, tenantID string) ([]ReasonStat, error) {
	var stats []ReasonStat
	err := r.db.WithContext(ctx).
		Table("failure_events AS e").
		Select("e.failure_reason, COUNT(*) AS total, COUNT(o.id) AS recovered").
		Joins("LEFT JOIN recovery_outcomes o ON o.invoice_id = e.invoice_id").
		Where("e.tenant_id = ?", tenantID).
		Group("e.failure_reason").
		Order("total DESC, e.failure_reason ASC").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ListRecords projects an invoice's failure events joined with its recovery
// outcome, ordered by charge number.
func (r *GormAnalyticsRepo) ListRecords(ctx context.Context, invoiceID string) ([]domain.FailureAnalyticsRecord, error) {
	var rows []recordRow
	err := r.db.WithContext(ctx).
		Table("failure_events AS e").
		Select("e.*, o.recovery_attempt_number").
		Joins("LEFT JOIN recovery_outcomes o ON o.invoice_id = e.invoice_id").
		Where("e.invoice_id = ?", invoiceID).
		Order("e.charge_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.FailureAnalyticsRecord, 0, len(rows))
	for i := range rows {
		records = append(records, domain.FailureAnalyticsRecord{
			FailureEvent:          *failureEventModelToDomain(&rows[i].FailureEventModel),
			EventuallyRecovered:   rows[i].RecoveryAttemptNumber != nil,
			RecoveryAttemptNumber: rows[i].RecoveryAttemptNumber,
		})
	}
	return records, nil
}

func (r *GormAnalyticsRepo) CountFailuresByCustomer(ctx context.Context, customerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FailureEventModel{}).
		Where("customer_id = ?", customerID).
		Count(&count).Error
	return count, err
}
