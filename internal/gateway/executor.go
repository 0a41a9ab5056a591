package gateway

import (
	"context"
	"fmt"
	"time"
)

// Executor enforces a hard deadline on gateway calls. A charge that does not
// return in time is reported as processing_error.
type Executor struct {
	processor PaymentProcessor
	timeout   time.Duration
}

func NewExecutor(processor PaymentProcessor, timeout time.Duration) (*Executor, error) {
	if processor == nil {
		return nil, fmt.Errorf("payment processor is required")
	}
	if timeout <= 0 {
		timeout = defaultStripeTimeout
	}
	return &Executor{processor: processor, timeout: timeout}, nil
}

func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

func (e *Executor) ChargeSaved(ctx context.Context, req ChargeRequest) ChargeResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan ChargeResult, 1)
	go func() {
		done <- e.processor.ChargeSaved(ctx, req)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return ProcessingError(fmt.Sprintf("gateway call aborted: %v", ctx.Err()))
	}
}

func (e *Executor) CreateHostedIntent(ctx context.Context, req HostedIntentRequest) (*HostedIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	return e.processor.CreateHostedIntent(ctx, req)
}
