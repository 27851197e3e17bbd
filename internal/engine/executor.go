package engine

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

// Execute runs one execution pass over the job's validated items. It is
// invoked only by a worker consuming the task queue, never directly by an
// API request.
//
// Every item commits in a transaction of its own: a failing item is recorded
// with its JobError and the loop continues to the next item. This is the
// engine's central partial-failure property. Already-EXECUTED items are never
// re-selected, which makes a manual re-invocation after a worker crash safe.
func (e *Engine) Execute(ctx context.Context, jobID string, itemIDs []string) (*domain.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatusRunning
	job.StartedAt = sql.NullTime{Time: e.now(), Valid: true}
	job.FinishedAt = sql.NullTime{}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	items, err := e.store.ListItems(ctx, jobID, domain.ItemFilter{
		Statuses: []string{domain.ItemStatusValidated},
		ItemIDs:  itemIDs,
	})
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		e.logger.Warn("No validated items to execute",
			slog.String("job_id", jobID),
		)
		job.MergeSummary("execution_note", "no validated items at execution")
		if err := e.finalize(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	period, err := e.resolvePeriod(job.Period)
	if err != nil {
		return nil, err
	}

	strategy := e.registry.Strategy(job.OperationType)

	for i := range items {
		item := &items[i]
		e.executeItem(ctx, job, item, strategy, period)
	}

	if err := e.finalize(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// executeItem runs one item's side effect and commits its outcome. Failures
// are contained here; the caller's loop never observes them.
func (e *Engine) executeItem(ctx context.Context, job *domain.Job, item *domain.JobItem, strategy Strategy, period string) {
	var result domain.JSONMap
	var err error

	if strategy == nil {
		err = domain.NewExecutionError("unsupported_operation",
			domain.ErrUnknownOperation)
	} else {
		result, err = strategy.Execute(ctx, job, item, period)
	}

	now := e.now()

	if err != nil {
		item.Status = domain.ItemStatusFailed
		item.Result = domain.JSONMap{"error": err.Error()}

		jobErr := &domain.JobError{
			ErrorID:   uuid.New().String(),
			JobID:     job.JobID,
			ItemID:    sql.NullString{String: item.ItemID, Valid: true},
			Code:      domain.ErrorCode(err),
			Message:   err.Error(),
			Details:   domain.JSONMap{"entity": item.Entity().String()},
			CreatedAt: now,
		}

		if saveErr := e.store.SaveItemOutcome(ctx, item, jobErr); saveErr != nil {
			e.logger.Error("Failed to record item failure",
				slog.String("job_id", job.JobID),
				slog.String("item_id", item.ItemID),
				slog.String("error", saveErr.Error()),
			)
		}

		telemetry.ItemsFailed.Inc()

		e.logger.Warn("Job item failed",
			slog.String("job_id", job.JobID),
			slog.String("item_id", item.ItemID),
			slog.String("entity", item.Entity().String()),
			slog.String("code", domain.ErrorCode(err)),
			slog.String("error", err.Error()),
		)
		return
	}

	item.Status = domain.ItemStatusExecuted
	item.Result = result
	item.ExecutedAt = sql.NullTime{Time: now, Valid: true}

	if saveErr := e.store.SaveItemOutcome(ctx, item, nil); saveErr != nil {
		e.logger.Error("Failed to record item result",
			slog.String("job_id", job.JobID),
			slog.String("item_id", item.ItemID),
			slog.String("error", saveErr.Error()),
		)
		return
	}

	telemetry.ItemsExecuted.Inc()

	e.logger.Debug("Job item executed",
		slog.String("job_id", job.JobID),
		slog.String("item_id", item.ItemID),
		slog.String("entity", item.Entity().String()),
		slog.Int64("amount_cents", item.AmountCents),
	)
}
