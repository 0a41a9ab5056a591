package queue

import (
	"context"
	"fmt"
)

// Publisher publishes retry messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg RetryMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg RetryMessage) error

// Consumer consumes retry messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// RetryQueue is the work queue the due scanner feeds.
const RetryQueue = "dunning.retries"

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.dunning.retries.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{RetryQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := WorkQueueNames()
	dlqs := make([]string, 0, len(queues))
	for _, q := range queues {
		dlqs = append(dlqs, DLQName(q))
	}
	return dlqs
}
