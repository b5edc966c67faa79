package queue

import (
	"context"
	"fmt"
)

// Publisher publishes conversion messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ConversionMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg ConversionMessage) error

// Consumer consumes conversion messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ConversionQueue receives one message per file scheduled for conversion.
	ConversionQueue = "file_conversion"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.file_conversion.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{ConversionQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(WorkQueueNames()))
	for _, name := range WorkQueueNames() {
		queues = append(queues, DLQName(name))
	}
	return queues
}
