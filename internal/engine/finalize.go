package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

// finalizeJob aggregates the job's item outcomes into a terminal status and
// merges the counts under summary.execution. src supplies the item counts:
// the lock transaction when finalizing inside a dispatch, the plain store
// otherwise. The caller persists the job.
func (e *Engine) finalizeJob(ctx context.Context, src StoreTx, job *domain.Job) error {
	counts, err := src.CountItemsByStatus(ctx, job.JobID)
	if err != nil {
		return err
	}

	executed := counts[domain.ItemStatusExecuted]
	failed := counts[domain.ItemStatusFailed]
	skipped := counts[domain.ItemStatusSkipped]

	switch {
	case failed > 0 && executed == 0:
		job.Status = domain.JobStatusFailed
	case failed > 0:
		job.Status = domain.JobStatusPartial
	default:
		job.Status = domain.JobStatusCompleted
	}

	now := e.now()
	job.FinishedAt = sql.NullTime{Time: now, Valid: true}
	job.CurrentTaskID = sql.NullString{}
	job.MergeSummary("execution", map[string]any{
		"executed":    executed,
		"failed":      failed,
		"skipped":     skipped,
		"finished_at": now.UTC().Format(time.RFC3339),
	})

	telemetry.JobsFinalized.WithLabelValues(job.Status).Inc()

	e.logger.Info("Job finalized",
		slog.String("job_id", job.JobID),
		slog.String("status", job.Status),
		slog.Int("executed", executed),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
	)

	return nil
}

// finalize aggregates and persists the terminal state.
func (e *Engine) finalize(ctx context.Context, job *domain.Job) error {
	if err := e.finalizeJob(ctx, e.store, job); err != nil {
		return err
	}
	return e.store.UpdateJob(ctx, job)
}
