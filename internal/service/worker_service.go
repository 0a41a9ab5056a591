package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
	"github.com/kursadbilgin/dunning-engine/internal/observability"
	"github.com/kursadbilgin/dunning-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// AttemptProcessor runs one due attempt.
type AttemptProcessor interface {
	ProcessAttempt(ctx context.Context, attemptID string) (Outcome, error)
}

// WorkerService consumes retry messages and hands each to the engine.
type WorkerService struct {
	consumer    queue.Consumer
	engine      AttemptProcessor
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	engine AttemptProcessor,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("attempt processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		engine:      engine,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the retry queues until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage acks messages for attempts that are gone or no longer due,
// and returns an error (requeue) only for infrastructure failures.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.RetryMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = observability.WithTenantID(ctx, msg.TenantID)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("attemptId", msg.AttemptID))

	outcome, err := s.engine.ProcessAttempt(ctx, msg.AttemptID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("retry attempt not found, skipping")
			return nil
		}
		logger.Error("failed to process retry attempt", zap.Error(err))
		return fmt.Errorf("failed to process attempt %s: %w", msg.AttemptID, err)
	}

	logger.Debug("retry message processed",
		zap.String("outcome", outcome.Result),
		zap.String("status", outcome.Status.String()),
		zap.Int("attemptNumber", outcome.AttemptNumber),
	)
	return nil
}
