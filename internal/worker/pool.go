package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case task, ok := <-w.tasksChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - tasksChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received task",
				slog.String("worker_name", workerName),
				slog.String("task_id", task.msg.TaskID),
				slog.String("job_id", task.msg.JobID),
				slog.Uint64("delivery_tag", task.deliveryTag),
			)

			// Process the task
			err := w.processTask(ctx, task)

			// Get RabbitMQ channel for ACK/NACK
			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", task.msg.JobID),
				)
				continue
			}

			// ACK or NACK based on processing result
			if err != nil {
				w.logger.Error("Task processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", task.msg.JobID),
					slog.String("error", err.Error()),
				)

				// Smart requeue decision based on error type
				requeue := w.shouldRequeueTask(err)

				if nackErr := channel.Nack(task.deliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", task.msg.JobID),
						slog.String("error", nackErr.Error()),
					)
				} else {
					w.logger.Info("Message NACKed",
						slog.String("worker_name", workerName),
						slog.String("job_id", task.msg.JobID),
						slog.Bool("requeue", requeue),
					)
				}
			} else {
				// Task completed - ACK the message
				if ackErr := channel.Ack(task.deliveryTag, false); ackErr != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", task.msg.JobID),
						slog.String("error", ackErr.Error()),
					)
				} else {
					w.logger.Info("Task completed successfully",
						slog.String("worker_name", workerName),
						slog.String("job_id", task.msg.JobID),
					)
				}
			}
		}
	}
}

// shouldRequeueTask determines if a task should be requeued based on the error type
func (w *Worker) shouldRequeueTask(err error) bool {
	// Don't requeue when the job itself rejected the task
	if domain.IsValidation(err) {
		return false
	}

	// Don't requeue once the redelivery attempt has been spent
	if errors.Is(err, ErrTaskExhausted) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
