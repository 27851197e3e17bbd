// Package queue adapts the RabbitMQ client to the engine's TaskQueue
// contract.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/shared/rabbitmq"
)

// RabbitQueue publishes task messages to the job exchange.
type RabbitQueue struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitQueue creates a RabbitQueue.
func NewRabbitQueue(client *rabbitmq.Client, logger *slog.Logger) *RabbitQueue {
	return &RabbitQueue{
		client: client,
		logger: logger,
	}
}

// Enqueue publishes the task as a persistent JSON message, retrying with
// backoff on transient broker errors.
func (q *RabbitQueue) Enqueue(ctx context.Context, msg engine.TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := q.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish task message: %w", err)
	}

	q.logger.Debug("Task message published",
		slog.String("task_id", msg.TaskID),
		slog.String("job_id", msg.JobID),
		slog.String("mode", msg.Mode),
	)

	return nil
}
