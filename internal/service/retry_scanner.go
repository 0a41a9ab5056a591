package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dunning-engine/internal/queue"
	"github.com/kursadbilgin/dunning-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Minute
	defaultRetryScanLimit    = 500
)

// EnqueueGuard de-duplicates publishes of one attempt schedule across scans.
type EnqueueGuard interface {
	Acquire(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) (bool, error)
	Release(ctx context.Context, attemptID string, attemptNumber int, dueAt time.Time) error
}

// RetryScanner periodically publishes due retry attempts to the work queue.
// Workers claim each attempt before charging, so a duplicate message is
// harmless; the guard only keeps the queue free of them.
type RetryScanner struct {
	attempts  repository.AttemptRepository
	publisher queue.Publisher
	guard     EnqueueGuard
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
	newID     func() string
}

func NewRetryScanner(
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	guard EnqueueGuard,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		attempts:  attempts,
		publisher: publisher,
		guard:     guard,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if _, err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

// scanDue publishes every due attempt not already enqueued and returns the
// number published.
func (s *RetryScanner) scanDue(ctx context.Context) (int, error) {
	due, err := s.attempts.ListDue(ctx, nil, s.now().UTC(), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due attempts: %w", err)
	}

	published := 0
	for i := range due {
		attempt := due[i]
		if attempt.NextRetryAt == nil {
			continue
		}
		dueAt := *attempt.NextRetryAt

		if s.guard != nil {
			acquired, err := s.guard.Acquire(ctx, attempt.ID, attempt.AttemptNumber, dueAt)
			if err != nil {
				s.logger.Warn("enqueue guard unavailable, publishing anyway",
					zap.String("attemptId", attempt.ID),
					zap.Error(err),
				)
			} else if !acquired {
				continue
			}
		}

		msg := queue.RetryMessage{
			AttemptID:     attempt.ID,
			TenantID:      attempt.TenantID,
			AttemptNumber: attempt.AttemptNumber,
			DueAt:         dueAt,
			CorrelationID: s.newID(),
		}
		if err := s.publisher.Publish(ctx, queue.RetryQueue, msg); err != nil {
			s.logger.Error("failed to enqueue retry attempt",
				zap.String("attemptId", attempt.ID),
				zap.String("tenantId", attempt.TenantID),
				zap.String("queue", queue.RetryQueue),
				zap.Error(err),
			)
			if s.guard != nil {
				if releaseErr := s.guard.Release(ctx, attempt.ID, attempt.AttemptNumber, dueAt); releaseErr != nil {
					s.logger.Warn("failed to release enqueue guard",
						zap.String("attemptId", attempt.ID),
						zap.Error(releaseErr),
					)
				}
			}
			continue
		}
		published++
	}

	if published > 0 {
		s.logger.Info("due retry attempts enqueued", zap.Int("published", published), zap.Int("due", len(due)))
	}
	return published, nil
}
