package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"go.uber.org/zap"
)

// SlotSource ranks (weekday, hour) slots by historical recovery rate.
type SlotSource interface {
	BestRecoveryTimes(ctx context.Context, tenantID string) ([]domain.TimeSlot, error)
}

// RetryScheduler computes when the next charge of an attempt should run.
type RetryScheduler struct {
	slots    SlotSource
	holidays HolidayCalendar
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
	randIntn func(n int) int
}

func NewRetryScheduler(
	slots SlotSource,
	holidays HolidayCalendar,
	location *time.Location,
	seed int64,
	logger *zap.Logger,
) *RetryScheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &RetryScheduler{
		slots:    slots,
		holidays: holidays,
		location: location,
		logger:   logger,
		now:      time.Now,
		randIntn: lockedIntn(rand.New(rand.NewSource(seed))),
	}
}

// NextRetryAt returns the time of the charge made by attemptNumber.
func (s *RetryScheduler) NextRetryAt(ctx context.Context, tenantID string, attemptNumber int, cfg *domain.RetryConfig) time.Time {
	now := s.now().In(s.location)
	base := now.AddDate(0, 0, cfg.IntervalForAttempt(attemptNumber))

	if !cfg.UseSmartTiming {
		times := cfg.TimesOfDay()
		return times[s.randIntn(len(times))].On(base).UTC()
	}

	if s.slots != nil {
		ranked, err := s.slots.BestRecoveryTimes(ctx, tenantID)
		if err != nil {
			s.logger.Error("failed to load recovery slots, using fallback time",
				zap.String("tenantId", tenantID),
				zap.Error(err),
			)
		}
		if candidate, ok := s.firstFeasibleSlot(base, ranked, cfg); ok {
			return candidate.UTC()
		}
	}

	return s.fallback(base, cfg).UTC()
}

// firstFeasibleSlot walks slots in rank order and returns the first one that
// survives the weekend and holiday filters.
func (s *RetryScheduler) firstFeasibleSlot(base time.Time, ranked []domain.TimeSlot, cfg *domain.RetryConfig) (time.Time, bool) {
	for _, slot := range ranked {
		candidate := time.Date(base.Year(), base.Month(), base.Day(), slot.HourOfDay, 0, 0, 0, base.Location())
		if candidate.Weekday() != slot.DayOfWeek {
			candidate = candidate.AddDate(0, 0, daysUntil(candidate.Weekday(), slot.DayOfWeek))
		}

		if cfg.AvoidWeekends && isWeekend(candidate) {
			continue
		}
		if cfg.AvoidHolidays && s.holidays != nil && s.holidays.IsHoliday(candidate) {
			continue
		}
		return candidate, true
	}
	return time.Time{}, false
}

func (s *RetryScheduler) fallback(base time.Time, cfg *domain.RetryConfig) time.Time {
	result := domain.FallbackTimeOfDay.On(base)
	if cfg.AvoidWeekends {
		for isWeekend(result) {
			result = result.AddDate(0, 0, 1)
		}
	}
	return result
}

// daysUntil is the forward distance from one weekday to another, 1..7.
func daysUntil(from, to time.Weekday) int {
	days := (int(to) - int(from) + 7) % 7
	if days == 0 {
		days = 7
	}
	return days
}

func lockedIntn(r *rand.Rand) func(n int) int {
	var mu sync.Mutex
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.Intn(n)
	}
}
