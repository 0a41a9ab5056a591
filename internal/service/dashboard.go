package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AttemptStatsReader aggregates a tenant's attempts.
type AttemptStatsReader interface {
	Stats(ctx context.Context, tenantID string, monthStart time.Time) (repository.AttemptStats, error)
}

// RecoveryAnalytics is the read side of the failure analytics log.
type RecoveryAnalytics interface {
	BestRecoveryTimes(ctx context.Context, tenantID string) ([]domain.TimeSlot, error)
	RecoveryRateByReason(ctx context.Context, tenantID string) ([]domain.ReasonRate, error)
}

type RecoveredSummary struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DashboardStats struct {
	TenantID                 string              `json:"tenantId"`
	PendingCount             int64               `json:"pendingCount"`
	RecoveredThisMonth       RecoveredSummary    `json:"recoveredThisMonth"`
	PermanentlyFailedCount   int64               `json:"permanentlyFailedCount"`
	RecoveryRatePercent      float64             `json:"recoveryRatePercent"`
	AvgRecoveryAttemptNumber float64             `json:"avgRecoveryAttemptNumber"`
	FailureReasonBreakdown   []domain.ReasonRate `json:"failureReasonBreakdown"`
	BestTimeSlots            []domain.TimeSlot   `json:"bestTimeSlots"`
}

type Dashboard struct {
	attempts  AttemptStatsReader
	analytics RecoveryAnalytics
	location  *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

func NewDashboard(attempts AttemptStatsReader, analytics RecoveryAnalytics, location *time.Location, logger *zap.Logger) (*Dashboard, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt stats reader is required")
	}
	if analytics == nil {
		return nil, fmt.Errorf("recovery analytics is required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dashboard{
		attempts:  attempts,
		analytics: analytics,
		location:  location,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// GetDashboardStats summarises a tenant's dunning. Only charged recoveries
// count as recovered; the rate is charged / (charged + permanently failed).
func (d *Dashboard) GetDashboardStats(ctx context.Context, tenantID string) (*DashboardStats, error) {
	local := d.now().In(d.location)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, d.location).UTC()

	stats, err := d.attempts.Stats(ctx, tenantID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attempts: %w", err)
	}
	reasons, err := d.analytics.RecoveryRateByReason(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate failure reasons: %w", err)
	}
	slots, err := d.analytics.BestRecoveryTimes(ctx, tenantID)
	if err != nil {
		d.logger.Warn("best recovery times unavailable", zap.String("tenantId", tenantID), zap.Error(err))
		slots = nil
	}

	rate := 0.0
	if closed := stats.RecoveredCount + stats.PermanentlyFailedCount; closed > 0 {
		rate = roundTo(float64(stats.RecoveredCount)/float64(closed)*100, 1)
	}

	if reasons == nil {
		reasons = []domain.ReasonRate{}
	}
	if slots == nil {
		slots = []domain.TimeSlot{}
	}

	return &DashboardStats{
		TenantID:     tenantID,
		PendingCount: stats.PendingCount,
		RecoveredThisMonth: RecoveredSummary{
			Count:  stats.RecoveredThisMonthCount,
			Amount: stats.RecoveredThisMonthAmount.Round(2),
		},
		PermanentlyFailedCount:   stats.PermanentlyFailedCount,
		RecoveryRatePercent:      rate,
		AvgRecoveryAttemptNumber: roundTo(stats.AvgRecoveryChargeNumber, 2),
		FailureReasonBreakdown:   reasons,
		BestTimeSlots:            slots,
	}, nil
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
