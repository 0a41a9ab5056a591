package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var activeStatuses = []domain.Status{domain.StatusPending, domain.StatusScheduled, domain.StatusProcessing}

// savedColumns are the columns an engine transition may change. The
// notification log is owned by SetNotifications alone, so a stale snapshot
// can never roll it back.
var savedColumns = []string{
	"payment_method_ref",
	"status",
	"resolution",
	"attempt_number",
	"failure_code",
	"failure_message",
	"decline_code",
	"scheduled_at",
	"next_retry_at",
	"claimed_at",
	"succeeded_at",
	"provider_txn_id",
	"charge_id",
	"card_was_updated",
}

// AttemptStats is the per-tenant aggregate behind the dashboard.
type AttemptStats struct {
	PendingCount             int64           `gorm:"column:pending_count"`
	PermanentlyFailedCount   int64           `gorm:"column:failed_count"`
	RecoveredCount           int64           `gorm:"column:recovered_count"`
	RecoveredThisMonthCount  int64           `gorm:"column:recovered_month_count"`
	RecoveredThisMonthAmount decimal.Decimal `gorm:"column:recovered_month_amount"`
	AvgRecoveryChargeNumber  float64         `gorm:"column:avg_recovery_charge"`
}

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.RetryAttempt) error
	GetByID(ctx context.Context, id string) (*domain.RetryAttempt, error)
	GetActiveByInvoice(ctx context.Context, invoiceID string) (*domain.RetryAttempt, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	Save(ctx context.Context, a *domain.RetryAttempt, expected domain.Status) error
	ListDue(ctx context.Context, tenantID *string, now time.Time, limit int) ([]domain.RetryAttempt, error)
	ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.RetryAttempt, error)
	ReleaseStuck(ctx context.Context, id string, reclaimCount int, now time.Time) error
	FlagForReview(ctx context.Context, id string, reason string, now time.Time) error
	SetNotifications(ctx context.Context, id string, notifications []domain.NotificationRecord) error
	Stats(ctx context.Context, tenantID string, monthStart time.Time) (AttemptStats, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create inserts a new attempt. The partial unique index on invoice_id turns a
// second active attempt for the same invoice into ErrConflict.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.RetryAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: invoice %s already has an active attempt", domain.ErrConflict, a.InvoiceID)
		}
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) GetActiveByInvoice(ctx context.Context, invoiceID string) (*domain.RetryAttempt, error) {
	var model RetryAttemptModel
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND status IN ?", invoiceID, activeStatuses).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

// Claim moves a due SCHEDULED attempt to PROCESSING. Exactly one concurrent
// caller observes true for a given schedule.
func (r *GormAttemptRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Where("id = ? AND status = ? AND next_retry_at <= ?", id, domain.StatusScheduled, now).
		Updates(map[string]any{
			"status":     domain.StatusProcessing,
			"claimed_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Save persists a's mutable state if the stored row is still in expected
// status and has not been re-released since a was read.
func (r *GormAttemptRepo) Save(ctx context.Context, a *domain.RetryAttempt, expected domain.Status) error {
	model := attemptModelFromDomain(a)
	result := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Where("id = ? AND status = ? AND reclaim_count = ?", a.ID, expected, a.ReclaimCount).
		Select(savedColumns).
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: attempt %s is no longer %s", domain.ErrConflict, a.ID, expected)
	}
	return nil
}

func (r *GormAttemptRepo) ListDue(ctx context.Context, tenantID *string, now time.Time, limit int) ([]domain.RetryAttempt, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.StatusScheduled, now)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var models []RetryAttemptModel
	err := query.
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return attemptsToDomain(models), nil
}

// ListStuck returns PROCESSING attempts claimed before claimedBefore that are
// not yet waiting for manual review.
func (r *GormAttemptRepo) ListStuck(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.RetryAttempt, error) {
	var models []RetryAttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ? AND needs_review = ?", domain.StatusProcessing, claimedBefore, false).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return attemptsToDomain(models), nil
}

// ReleaseStuck returns a stuck attempt to SCHEDULED, due immediately.
func (r *GormAttemptRepo) ReleaseStuck(ctx context.Context, id string, reclaimCount int, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Where("id = ? AND status = ? AND reclaim_count = ?", id, domain.StatusProcessing, reclaimCount).
		Updates(map[string]any{
			"status":        domain.StatusScheduled,
			"next_retry_at": now,
			"claimed_at":    nil,
			"reclaim_count": gorm.Expr("reclaim_count + 1"),
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// FlagForReview marks a stuck PROCESSING attempt, or an exhausted FAILED one
// whose terminal action did not complete.
func (r *GormAttemptRepo) FlagForReview(ctx context.Context, id string, reason string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusProcessing, domain.StatusFailed}).
		Updates(map[string]any{
			"needs_review":  true,
			"review_reason": reason,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormAttemptRepo) SetNotifications(ctx context.Context, id string, notifications []domain.NotificationRecord) error {
	result := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Where("id = ?", id).
		Select("notifications").
		Updates(&RetryAttemptModel{Notifications: notifications})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAttemptRepo) Stats(ctx context.Context, tenantID string, monthStart time.Time) (AttemptStats, error) {
	charged := "status = 'SUCCEEDED' AND resolution = 'charged'"

	var stats AttemptStats
	err := r.db.WithContext(ctx).
		Model(&RetryAttemptModel{}).
		Select(
			"COUNT(CASE WHEN status IN ('PENDING', 'SCHEDULED', 'PROCESSING') THEN 1 END) AS pending_count, "+
				"COUNT(CASE WHEN status = 'FAILED' THEN 1 END) AS failed_count, "+
				"COUNT(CASE WHEN "+charged+" THEN 1 END) AS recovered_count, "+
				"COUNT(CASE WHEN "+charged+" AND succeeded_at >= ? THEN 1 END) AS recovered_month_count, "+
				"COALESCE(SUM(CASE WHEN "+charged+" AND succeeded_at >= ? THEN amount END), 0) AS recovered_month_amount, "+
				"COALESCE(AVG(CASE WHEN "+charged+" THEN attempt_number + 1 END), 0) AS avg_recovery_charge",
			monthStart, monthStart,
		).
		Where("tenant_id = ?", tenantID).
		Scan(&stats).Error
	if err != nil {
		return AttemptStats{}, err
	}
	return stats, nil
}

func attemptsToDomain(models []RetryAttemptModel) []domain.RetryAttempt {
	attempts := make([]domain.RetryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts
}
