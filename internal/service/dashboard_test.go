package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRecoveryAnalytics struct {
	slots    []domain.TimeSlot
	slotsErr error
	reasons  []domain.ReasonRate
}

func (f *fakeRecoveryAnalytics) BestRecoveryTimes(ctx context.Context, tenantID string) ([]domain.TimeSlot, error) {
	return f.slots, f.slotsErr
}

func (f *fakeRecoveryAnalytics) RecoveryRateByReason(ctx context.Context, tenantID string) ([]domain.ReasonRate, error) {
	return f.reasons, nil
}

func TestDashboardGetDashboardStats(t *testing.T) {
	t.Parallel()

	var gotMonthStart time.Time
	attempts := &fakeAttemptRepo{
		statsFn: func(ctx context.Context, tenantID string, monthStart time.Time) (repository.AttemptStats, error) {
			gotMonthStart = monthStart
			return repository.AttemptStats{
				PendingCount:             4,
				PermanentlyFailedCount:   1,
				RecoveredCount:           2,
				RecoveredThisMonthCount:  2,
				RecoveredThisMonthAmount: decimal.RequireFromString("99.98"),
				AvgRecoveryChargeNumber:  2.3333,
			}, nil
		},
	}
	analytics := &fakeRecoveryAnalytics{
		slots:   []domain.TimeSlot{{DayOfWeek: time.Tuesday, HourOfDay: 10, RecoveryRate: 0.8, SampleSize: 5}},
		reasons: []domain.ReasonRate{{Reason: "insufficient_funds", Label: "Insufficient funds", Failures: 3, Recovered: 2, RecoveryRate: 66.7}},
	}

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	dashboard, err := NewDashboard(attempts, analytics, berlin, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDashboard() error = %v", err)
	}
	dashboard.now = func() time.Time { return time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC) }

	stats, err := dashboard.GetDashboardStats(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("GetDashboardStats() error = %v", err)
	}

	// 23:30 UTC on March 31 is already April 1 in Berlin.
	wantMonthStart := time.Date(2026, 4, 1, 0, 0, 0, 0, berlin).UTC()
	if !gotMonthStart.Equal(wantMonthStart) {
		t.Fatalf("month start = %v, want %v", gotMonthStart, wantMonthStart)
	}
	if stats.PendingCount != 4 || stats.PermanentlyFailedCount != 1 {
		t.Fatalf("counts = %+v", stats)
	}
	if stats.RecoveryRatePercent != 66.7 {
		t.Fatalf("recovery rate = %v, want 66.7", stats.RecoveryRatePercent)
	}
	if stats.AvgRecoveryAttemptNumber != 2.33 {
		t.Fatalf("avg recovery attempt = %v, want 2.33", stats.AvgRecoveryAttemptNumber)
	}
	if !stats.RecoveredThisMonth.Amount.Equal(decimal.RequireFromString("99.98")) {
		t.Fatalf("recovered amount = %s", stats.RecoveredThisMonth.Amount)
	}
	if len(stats.BestTimeSlots) != 1 || len(stats.FailureReasonBreakdown) != 1 {
		t.Fatalf("slots = %v reasons = %v", stats.BestTimeSlots, stats.FailureReasonBreakdown)
	}
}

func TestDashboardEmptyTenant(t *testing.T) {
	t.Parallel()

	analytics := &fakeRecoveryAnalytics{slotsErr: errors.New("cache down")}
	dashboard, err := NewDashboard(&fakeAttemptRepo{}, analytics, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDashboard() error = %v", err)
	}

	stats, err := dashboard.GetDashboardStats(context.Background(), "tenant-empty")
	if err != nil {
		t.Fatalf("GetDashboardStats() error = %v", err)
	}
	if stats.RecoveryRatePercent != 0 {
		t.Fatalf("recovery rate = %v, want 0", stats.RecoveryRatePercent)
	}
	if stats.BestTimeSlots == nil || stats.FailureReasonBreakdown == nil {
		t.Fatal("expected empty slices, got nil")
	}
}

func TestDashboardStatsError(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		statsFn: func(ctx context.Context, tenantID string, monthStart time.Time) (repository.AttemptStats, error) {
			return repository.AttemptStats{}, errors.New("db down")
		},
	}
	dashboard, _ := NewDashboard(attempts, &fakeRecoveryAnalytics{}, time.UTC, zap.NewNop())

	if _, err := dashboard.GetDashboardStats(context.Background(), "tenant-1"); err == nil {
		t.Fatal("expected error")
	}
}
