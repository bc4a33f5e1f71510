package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/talentflow/bulkops-engine/internal/domain"
)

// Publisher publishes operation messages to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg OperationMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg OperationMessage) error

// Consumer consumes operation messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// QueueName returns the work queue for an operation type, e.g. bulk_email.
func QueueName(opType domain.OperationType) string {
	return strings.ToLower(opType.String())
}

// DLQName returns the dead-letter queue name, e.g. dlq.bulk_email.
func DLQName(opType domain.OperationType) string {
	return fmt.Sprintf("dlq.%s", QueueName(opType))
}

// WorkQueueNames returns one work queue per operation type (5 total).
func WorkQueueNames() []string {
	types := domain.OperationTypes()
	queues := make([]string, 0, len(types))
	for _, opType := range types {
		queues = append(queues, QueueName(opType))
	}
	return queues
}

// DLQNames returns all dead-letter queues (5 total).
func DLQNames() []string {
	types := domain.OperationTypes()
	queues := make([]string, 0, len(types))
	for _, opType := range types {
		queues = append(queues, DLQName(opType))
	}
	return queues
}
