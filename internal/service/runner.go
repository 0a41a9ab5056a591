package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRunInterval = 5 * time.Minute

// DueRetryRunner runs the retries due at each tick.
type DueRetryRunner interface {
	RunDueRetries(ctx context.Context, tenantID *string) (RunSummary, error)
}

// Runner processes due retries in-process, without the work queue.
type Runner struct {
	engine   DueRetryRunner
	logger   *zap.Logger
	interval time.Duration
}

func NewRunner(engine DueRetryRunner, interval time.Duration, logger *zap.Logger) (*Runner, error) {
	if engine == nil {
		return nil, fmt.Errorf("retry engine is required")
	}
	if interval <= 0 {
		interval = defaultRunInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		engine:   engine,
		logger:   logger,
		interval: interval,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.runOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial retry run failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.runOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("retry run failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) error {
	summary, err := r.engine.RunDueRetries(ctx, nil)
	if err != nil {
		return err
	}
	if summary.Due == 0 {
		return nil
	}

	fields := []zap.Field{
		zap.Int("due", summary.Due),
		zap.Int("errors", summary.Errors),
	}
	for result, count := range summary.Counts {
		fields = append(fields, zap.Int(result, count))
	}
	r.logger.Info("retry run finished", fields...)
	return nil
}
