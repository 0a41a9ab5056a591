package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer feeds deliveries from one work queue to a handler. A
// delivery whose handler fails is requeued once; failing again on the
// redelivery dead-letters it.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done, resubscribing with backoff whenever the
// channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	b := reconnectBackOff()
	for {
		started := time.Now()
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		// A subscription that stayed up for a while starts the backoff over.
		if time.Since(started) > time.Minute {
			b.Reset()
		}

		wait := b.NextBackOff()
		c.logger.Warn("retry queue subscription lost",
			zap.String("queue", queue),
			zap.Duration("resubscribeIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.settle(d, c.dispatch(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

type verdict int

const (
	verdictAck verdict = iota
	verdictRequeue
	verdictDeadLetter
)

func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) verdict {
	var msg RetryMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering undecodable retry message",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return verdictDeadLetter
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering invalid retry message",
			zap.String("attemptId", msg.AttemptID),
			zap.Error(err),
		)
		return verdictDeadLetter
	}

	if err := handler(ctx, msg); err != nil {
		if d.Redelivered {
			c.logger.Error("retry message failed twice, dead-lettering",
				zap.String("attemptId", msg.AttemptID),
				zap.Int("attemptNumber", msg.AttemptNumber),
				zap.Error(err),
			)
			return verdictDeadLetter
		}
		return verdictRequeue
	}
	return verdictAck
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, v verdict) error {
	var err error
	switch v {
	case verdictAck:
		err = d.Ack(false)
	case verdictRequeue:
		err = d.Nack(false, true)
	case verdictDeadLetter:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %q: %w", d.MessageId, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
