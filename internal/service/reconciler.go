package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval  = time.Minute
	defaultReconcileThreshold = time.Minute
	defaultMaxReclaims        = 3
	reconcileBatchSize        = 200

	stuckReleased = "released"
	stuckFlagged  = "flagged"
)

// ReconcileSweeper finds attempts left in PROCESSING past the threshold.
// They are released back to SCHEDULED until they have been released
// maxReclaims times, then flagged for manual review.
type ReconcileSweeper struct {
	attempts    repository.AttemptRepository
	metrics     *observability.Metrics
	logger      *zap.Logger
	interval    time.Duration
	threshold   time.Duration
	maxReclaims int
	now         func() time.Time
}

func NewReconcileSweeper(
	attempts repository.AttemptRepository,
	interval time.Duration,
	threshold time.Duration,
	maxReclaims int,
	logger *zap.Logger,
) (*ReconcileSweeper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if threshold <= 0 {
		threshold = defaultReconcileThreshold
	}
	if maxReclaims < 0 {
		maxReclaims = defaultMaxReclaims
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileSweeper{
		attempts:    attempts,
		logger:      logger,
		interval:    interval,
		threshold:   threshold,
		maxReclaims: maxReclaims,
		now:         time.Now,
	}, nil
}

func (s *ReconcileSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ReconcileSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("reconcile sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep returns how many stuck attempts were released and flagged.
func (s *ReconcileSweeper) sweep(ctx context.Context) (int, int, error) {
	now := s.now().UTC()
	stuck, err := s.attempts.ListStuck(ctx, now.Add(-s.threshold), reconcileBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list stuck attempts: %w", err)
	}

	released, flagged := 0, 0
	for i := range stuck {
		attempt := stuck[i]
		logger := s.logger.With(
			zap.String("attemptId", attempt.ID),
			zap.String("tenantId", attempt.TenantID),
			zap.Int("attemptNumber", attempt.AttemptNumber),
			zap.Int("reclaimCount", attempt.ReclaimCount),
			zap.Timep("claimedAt", attempt.ClaimedAt),
		)

		if attempt.ReclaimCount < s.maxReclaims {
			err := s.attempts.ReleaseStuck(ctx, attempt.ID, attempt.ReclaimCount, now)
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			if err != nil {
				logger.Error("failed to release stuck attempt", zap.Error(err))
				continue
			}
			logger.Warn("stuck attempt released for retry")
			s.metrics.IncStuckAttempt(stuckReleased)
			released++
			continue
		}

		reason := fmt.Sprintf("stuck in PROCESSING after %d releases", attempt.ReclaimCount)
		err := s.attempts.FlagForReview(ctx, attempt.ID, reason, now)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			logger.Error("failed to flag stuck attempt", zap.Error(err))
			continue
		}
		logger.Error("stuck attempt flagged for manual review", zap.String("reason", reason))
		s.metrics.IncStuckAttempt(stuckFlagged)
		flagged++
	}

	return released, flagged, nil
}
