package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultBestSlotsLimit = 5

// CustomerHistory supplies the customer counters of a feature vector.
type CustomerHistory interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CountSuccessfulPayments(ctx context.Context, customerID string) (int64, error)
}

// SlotCache holds ranked slots per tenant.
type SlotCache interface {
	Get(ctx context.Context, tenantID string) ([]domain.TimeSlot, bool, error)
	Set(ctx context.Context, tenantID string, slots []domain.TimeSlot) error
	Invalidate(ctx context.Context, tenantID string) error
}

// Store is the failure analytics log: immutable failure events, one recovery
// outcome per invoice, and the aggregates the scheduler ranks slots by.
type Store struct {
	repo      repository.AnalyticsRepository
	customers CustomerHistory
	cache     SlotCache
	location  *time.Location
	slotLimit int
	logger    *zap.Logger
	newID     func() string
}

func NewStore(
	repo repository.AnalyticsRepository,
	customers CustomerHistory,
	cache SlotCache,
	location *time.Location,
	slotLimit int,
	logger *zap.Logger,
) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("analytics repository is required")
	}
	if customers == nil {
		return nil, fmt.Errorf("customer history is required")
	}
	if location == nil {
		location = time.UTC
	}
	if slotLimit <= 0 {
		slotLimit = defaultBestSlotsLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		repo:      repo,
		customers: customers,
		cache:     cache,
		location:  location,
		slotLimit: slotLimit,
		logger:    logger,
		newID:     uuid.NewString,
	}, nil
}

// Record appends the feature vector of one failed charge. Recording the same
// charge twice is a no-op.
func (s *Store) Record(ctx context.Context, attempt *domain.RetryAttempt, chargeNumber int, failureReason string, at time.Time) error {
	local := at.In(s.location)
	event := &domain.FailureEvent{
		ID:             s.newID(),
		TenantID:       attempt.TenantID,
		AttemptID:      attempt.ID,
		InvoiceID:      attempt.InvoiceID,
		CustomerID:     attempt.CustomerID,
		ChargeNumber:   chargeNumber,
		FailureReason:  failureReason,
		DayOfWeek:      local.Weekday(),
		HourOfDay:      local.Hour(),
		Date:           time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
		IsFirstOfMonth: local.Day() <= domain.FirstOfMonthMaxDay,
		IsEndOfMonth:   local.Day() >= domain.EndOfMonthMinDay,
		OccurredAt:     at.UTC(),
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if err := s.fillCustomerHistory(ctx, event, at); err != nil {
		return err
	}

	if err := s.repo.AppendFailureEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("failure event already recorded",
				zap.String("attemptId", attempt.ID),
				zap.Int("chargeNumber", chargeNumber),
			)
			return nil
		}
		return fmt.Errorf("failed to append failure event: %w", err)
	}
	return nil
}

func (s *Store) fillCustomerHistory(ctx context.Context, event *domain.FailureEvent, at time.Time) error {
	customer, err := s.customers.GetCustomer(ctx, event.CustomerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Warn("customer missing for failure event", zap.String("customerId", event.CustomerID))
	case err != nil:
		return fmt.Errorf("failed to load customer: %w", err)
	default:
		if !customer.CreatedAt.IsZero() {
			tenure := int(at.Sub(customer.CreatedAt).Hours() / 24)
			event.CustomerTenureDays = &tenure
		}
		event.CardBrand = customer.CardBrand
		event.CardLast4 = customer.CardLast4
	}

	successful, err := s.customers.CountSuccessfulPayments(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to count successful payments: %w", err)
	}
	failed, err := s.repo.CountFailuresByCustomer(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to count failed payments: %w", err)
	}
	event.PriorSuccessfulPayments = int(successful)
	event.PriorFailedPayments = int(failed)
	return nil
}

// MarkRecovered appends the recovery outcome of attempt's invoice, which
// back-annotates every failure event of that invoice, and drops the tenant's
// cached slots.
func (s *Store) MarkRecovered(ctx context.Context, attempt *domain.RetryAttempt, recoveryAttemptNumber int, at time.Time) error {
	outcome := &domain.RecoveryOutcome{
		ID:                    s.newID(),
		TenantID:              attempt.TenantID,
		InvoiceID:             attempt.InvoiceID,
		AttemptID:             attempt.ID,
		RecoveryAttemptNumber: recoveryAttemptNumber,
		RecoveredAt:           at.UTC(),
	}
	if err := s.repo.AppendRecoveryOutcome(ctx, outcome); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("failed to append recovery outcome: %w", err)
		}
		s.logger.Debug("recovery outcome already recorded", zap.String("invoiceId", attempt.InvoiceID))
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, attempt.TenantID); err != nil {
			s.logger.Warn("failed to invalidate slot cache",
				zap.String("tenantId", attempt.TenantID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// BestRecoveryTimes returns the tenant's top slots by recovery rate.
func (s *Store) BestRecoveryTimes(ctx context.Context, tenantID string) ([]domain.TimeSlot, error) {
	if s.cache != nil {
		slots, hit, err := s.cache.Get(ctx, tenantID)
		if err != nil {
			s.logger.Warn("slot cache read failed", zap.String("tenantId", tenantID), zap.Error(err))
		} else if hit {
			return slots, nil
		}
	}

	stats, err := s.repo.SlotStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate slot stats: %w", err)
	}
	slots := RankSlots(stats, s.slotLimit)

	if s.cache != nil {
		if err := s.cache.Set(ctx, tenantID, slots); err != nil {
			s.logger.Warn("slot cache write failed", zap.String("tenantId", tenantID), zap.Error(err))
		}
	}
	return slots, nil
}

// RankSlots drops slots without recoveries and orders the rest by recovery
// rate, then sample size, then weekday and hour.
func RankSlots(stats []repository.SlotStat, limit int) []domain.TimeSlot {
	slots := make([]domain.TimeSlot, 0, len(stats))
	for _, st := range stats {
		if st.Recovered == 0 || st.Total == 0 {
			continue
		}
		slots = append(slots, domain.TimeSlot{
			DayOfWeek:    time.Weekday(st.DayOfWeek),
			HourOfDay:    st.HourOfDay,
			RecoveryRate: round(float64(st.Recovered)/float64(st.Total), 4),
			SampleSize:   int(st.Total),
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.RecoveryRate != b.RecoveryRate {
			return a.RecoveryRate > b.RecoveryRate
		}
		if a.SampleSize != b.SampleSize {
			return a.SampleSize > b.SampleSize
		}
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		return a.HourOfDay < b.HourOfDay
	})

	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return slots
}

// RecoveryRateByReason reports, per failure reason, the share of failures
// whose invoice was eventually recovered.
func (s *Store) RecoveryRateByReason(ctx context.Context, tenantID string) ([]domain.ReasonRate, error) {
	stats, err := s.repo.ReasonStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reason stats: %w", err)
	}

	rates := make([]domain.ReasonRate, 0, len(stats))
	for _, st := range stats {
		rate := 0.0
		if st.Total > 0 {
			rate = round(float64(st.Recovered)/float64(st.Total), 4)
		}
		rates = append(rates, domain.ReasonRate{
			Reason:       st.Reason,
			Label:        domain.DeclineLabel(st.Reason),
			Failures:     int(st.Total),
			Recovered:    int(st.Recovered),
			RecoveryRate: rate,
		})
	}
	return rates, nil
}

// Records is the per-invoice projection of failure events and their outcome.
func (s *Store) Records(ctx context.Context, invoiceID string) ([]domain.FailureAnalyticsRecord, error) {
	return s.repo.ListRecords(ctx, invoiceID)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
