package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

type dispatchState struct {
	taskID   string
	itemIDs  []string
	noop     bool
	syncDone bool
}

// QueueExecution is the concurrency-safe entry point that hands a job to the
// task queue. All precondition checks and the RUNNING transition happen under
// the job row lock, so two concurrent callers can never both queue the same
// job: the loser observes the in-flight marker and gets the no-op result
// (queued=false, empty task id) instead of an error.
//
// A job with nothing to execute is finalized synchronously in place without
// touching the queue. A broker failure rolls the job to FAILED, records a
// JobError and re-raises as an InfrastructureError.
func (e *Engine) QueueExecution(ctx context.Context, jobID, mode string, itemIDs []string) (string, bool, error) {
	if mode != domain.ModeExecute && mode != domain.ModeRetry {
		return "", false, domain.NewValidationError("unknown execution mode %q", mode)
	}

	var st dispatchState
	st.itemIDs = itemIDs

	_, err := e.store.WithJobLock(ctx, jobID, func(ctx context.Context, tx StoreTx, job *domain.Job) error {
		return e.dispatchLocked(ctx, tx, job, mode, &st)
	})
	if err != nil {
		return "", false, err
	}

	if st.noop {
		e.logger.Info("Job already in flight, queue request is a no-op",
			slog.String("job_id", jobID),
			slog.String("mode", mode),
		)
		return "", false, nil
	}

	if st.syncDone {
		e.logger.Info("Job finalized synchronously, nothing to execute",
			slog.String("job_id", jobID),
			slog.String("mode", mode),
		)
		return "", false, nil
	}

	msg := TaskMessage{
		TaskID:  st.taskID,
		JobID:   jobID,
		Mode:    mode,
		ItemIDs: st.itemIDs,
	}

	if err := e.queue.Enqueue(ctx, msg); err != nil {
		e.logger.Error("Failed to enqueue job task",
			slog.String("job_id", jobID),
			slog.String("task_id", st.taskID),
			slog.String("error", err.Error()),
		)
		if failErr := e.FailJob(ctx, jobID, "broker_error", err); failErr != nil {
			e.logger.Error("Failed to mark job FAILED after enqueue error",
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}
		return "", false, domain.NewInfrastructureError("enqueue", err)
	}

	telemetry.JobsQueued.Inc()

	e.logger.Info("Job execution queued",
		slog.String("job_id", jobID),
		slog.String("task_id", st.taskID),
		slog.String("mode", mode),
		slog.Int("item_subset", len(st.itemIDs)),
	)

	return st.taskID, true, nil
}

// dispatchLocked runs the gate's precondition checks and job mutation while
// the row lock is held. All item access goes through tx so the retry reset
// and the RUNNING transition land in one atomic commit; if anything here
// fails, no retry_count increment survives.
func (e *Engine) dispatchLocked(ctx context.Context, tx StoreTx, job *domain.Job, mode string, st *dispatchState) error {
	if job.Status == domain.JobStatusCanceled {
		return domain.NewValidationError("job %s is canceled and can never be queued", job.JobID)
	}

	if job.InFlight() {
		st.noop = true
		return nil
	}

	if mode == domain.ModeExecute && !job.DryRunCompleted {
		return domain.NewValidationError("job %s has no completed dry run", job.JobID)
	}

	if mode == domain.ModeRetry {
		reset, err := tx.ResetFailedItems(ctx, job.JobID, st.itemIDs)
		if err != nil {
			return err
		}
		if reset == 0 {
			return domain.NewValidationError("job %s has no failed items to retry", job.JobID)
		}
		e.logger.Info("Failed items reset for retry",
			slog.String("job_id", job.JobID),
			slog.Int("items", reset),
		)
	}

	items, err := tx.ListItems(ctx, job.JobID, domain.ItemFilter{
		Statuses: []string{domain.ItemStatusValidated},
		ItemIDs:  st.itemIDs,
	})
	if err != nil {
		return err
	}

	if len(items) == 0 {
		job.MergeSummary("execution_note", "no validated items at dispatch")
		if err := e.finalizeJob(ctx, tx, job); err != nil {
			return err
		}
		st.syncDone = true
		return nil
	}

	if !domain.CanEnterRunning(job.Status) {
		return domain.NewValidationError("job %s in status %s cannot enter execution", job.JobID, job.Status)
	}

	st.taskID = uuid.New().String()
	job.Status = domain.JobStatusRunning
	job.FinishedAt = sql.NullTime{}
	job.CurrentTaskID = sql.NullString{String: st.taskID, Valid: true}
	job.MergeSummary("queue", map[string]any{
		"task_id":   st.taskID,
		"mode":      mode,
		"item_ids":  st.itemIDs,
		"queued_at": e.now().UTC().Format(time.RFC3339),
	})

	return nil
}

// Retry re-queues the job's failed items (optionally an explicit subset)
// through the identical dispatch path as a first attempt. The item reset and
// all precondition checks run under the same row lock as the dispatch, so no
// separate code path exists for retry execution, only for selecting what to
// retry.
func (e *Engine) Retry(ctx context.Context, jobID string, itemIDs []string) (string, bool, error) {
	return e.QueueExecution(ctx, jobID, domain.ModeRetry, itemIDs)
}

// FailJob rolls the job to FAILED, recording the causing error at job level.
// Used when infrastructure failures make the job unexecutable (broker down,
// worker retries exhausted).
func (e *Engine) FailJob(ctx context.Context, jobID, code string, cause error) error {
	now := e.now()

	_, err := e.store.WithJobLock(ctx, jobID, func(ctx context.Context, _ StoreTx, job *domain.Job) error {
		job.Status = domain.JobStatusFailed
		job.CurrentTaskID = sql.NullString{}
		job.FinishedAt = sql.NullTime{Time: now, Valid: true}
		job.MergeSummary("last_error", map[string]any{
			"code":    code,
			"message": cause.Error(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	return e.store.AppendError(ctx, &domain.JobError{
		ErrorID:   uuid.New().String(),
		JobID:     jobID,
		Code:      code,
		Message:   cause.Error(),
		Details:   domain.JSONMap{},
		CreatedAt: now,
	})
}
