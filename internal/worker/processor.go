package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// processTask runs one queued task through the engine. Per-item failures are
// contained by the engine and never surface here; an error from Execute means
// the run itself could not proceed (job gone, database down).
func (w *Worker) processTask(ctx context.Context, task *taskDelivery) error {
	w.logger.Info("Processing task",
		slog.String("task_id", task.msg.TaskID),
		slog.String("job_id", task.msg.JobID),
		slog.String("mode", task.msg.Mode),
		slog.Int("item_count", len(task.msg.ItemIDs)),
		slog.Bool("redelivered", task.redelivered),
	)

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	job, err := w.engine.Execute(taskCtx, task.msg.JobID, task.msg.ItemIDs)
	if err != nil {
		if domain.IsValidation(err) {
			// The job rejected the task (canceled, deleted mid-flight).
			// Requeueing cannot change that.
			w.logger.Warn("Task rejected by engine",
				slog.String("job_id", task.msg.JobID),
				slog.String("error", err.Error()),
			)
			return err
		}

		w.logger.Error("Task execution failed",
			slog.String("job_id", task.msg.JobID),
			slog.String("error", err.Error()),
		)

		// First failure gets one redelivery; a failed redelivery marks the
		// job FAILED so operators can retry explicitly.
		if !task.redelivered {
			w.logger.Info("Task will be redelivered",
				slog.String("task_id", task.msg.TaskID),
				slog.String("job_id", task.msg.JobID),
			)
			return NewRetryableError(fmt.Errorf("task execution failed: %w", err))
		}

		w.logger.Warn("Task exhausted its redelivery attempt",
			slog.String("task_id", task.msg.TaskID),
			slog.String("job_id", task.msg.JobID),
		)

		if failErr := w.engine.FailJob(ctx, task.msg.JobID, "worker_error", err); failErr != nil {
			w.logger.Error("Failed to mark job FAILED",
				slog.String("job_id", task.msg.JobID),
				slog.String("error", failErr.Error()),
			)
		}

		return fmt.Errorf("%w: %v", ErrTaskExhausted, err)
	}

	w.logger.Info("Task completed",
		slog.String("task_id", task.msg.TaskID),
		slog.String("job_id", task.msg.JobID),
		slog.String("job_status", job.Status),
	)

	return nil // Success - ACK the message
}
