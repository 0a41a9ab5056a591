package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers copied onto every retry message so dead-lettered deliveries can be
// triaged without decoding the body.
const (
	HeaderTenantID      = "x-tenant-id"
	HeaderAttemptNumber = "x-attempt-number"
)

// RabbitMQPublisher sends persistent retry messages to the default exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg RetryMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := newPublishing(msg, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish attempt %s to %q: %w", msg.AttemptID, queue, err)
	}
	return nil
}

// newPublishing validates msg and builds its AMQP envelope. The message id
// is stable per schedule, so a republish of the same due time is recognisable.
func newPublishing(msg RetryMessage, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid retry message: %w", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode retry message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     msg.MessageID(),
		CorrelationId: msg.CorrelationID,
		Headers: amqp.Table{
			HeaderTenantID:      msg.TenantID,
			HeaderAttemptNumber: int32(msg.AttemptNumber),
		},
		Body: body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
