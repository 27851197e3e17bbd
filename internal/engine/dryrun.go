package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

// BuildDryRun recomputes the job's preview: it resolves the candidate set,
// fully replaces the job's items and errors, and stores aggregate counts and
// the estimated total under summary.dry_run. Re-invocable any number of
// times before execution; it never calls an executor strategy.
func (e *Engine) BuildDryRun(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == domain.JobStatusRunning {
		return nil, domain.NewValidationError("job %s is running; dry run cannot be rebuilt", jobID)
	}
	// Once a job has finished, its items and errors are the audit trail of
	// what ran; rebuilding would roll status backward and erase it.
	if domain.JobTerminal(job.Status) {
		return nil, domain.NewValidationError("job %s in status %s is finished; dry run cannot be rebuilt", jobID, job.Status)
	}

	period, err := e.resolvePeriod(job.Period)
	if err != nil {
		return nil, err
	}
	job.Period = period

	resolver := e.registry.Resolver(job.OperationType)
	if resolver == nil {
		return nil, domain.NewValidationError("unsupported operation type %q", job.OperationType)
	}

	candidates, err := resolver.Resolve(ctx, job.Scope(), period)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve candidates for %s: %w", job.OperationType, err)
	}

	now := e.now()
	items := make([]domain.JobItem, 0, len(candidates))
	seen := make(map[domain.EntityRef]bool, len(candidates))

	var validated, skipped int
	var totalCents int64

	for i, cand := range candidates {
		// (job, entity) is unique; a resolver returning the same entity
		// twice keeps the first occurrence.
		if seen[cand.Entity] {
			e.logger.Warn("Resolver returned duplicate entity",
				slog.String("job_id", job.JobID),
				slog.String("entity", cand.Entity.String()),
			)
			continue
		}
		seen[cand.Entity] = true

		item := domain.JobItem{
			ItemID:      uuid.New().String(),
			JobID:       job.JobID,
			EntityKind:  cand.Entity.Kind,
			EntityID:    cand.Entity.ID,
			AmountCents: cand.AmountCents,
			Payload:     cand.Payload,
			Result:      domain.JSONMap{},
			// spread timestamps so creation order survives the
			// (created_at, item_id) sort
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}

		if len(cand.Invalid) > 0 {
			item.Status = domain.ItemStatusSkipped
			item.ValidationErrors = append(domain.StringList{}, cand.Invalid...)
			skipped++
		} else {
			item.Status = domain.ItemStatusValidated
			validated++
			totalCents += cand.AmountCents
		}

		items = append(items, item)
	}

	job.MergeSummary("dry_run", map[string]any{
		"total_items":        len(items),
		"validated":          validated,
		"skipped":            skipped,
		"total_amount_cents": totalCents,
		"period":             period,
		"computed_at":        now.UTC().Format(time.RFC3339),
	})
	job.Status = domain.JobStatusPreviewed
	job.DryRunCompleted = true

	if err := e.store.RebuildItems(ctx, job, items); err != nil {
		return nil, err
	}

	telemetry.DryRunsBuilt.Inc()

	e.logger.Info("Dry run built",
		slog.String("job_id", job.JobID),
		slog.String("operation_type", job.OperationType),
		slog.String("period", period),
		slog.Int("total_items", len(items)),
		slog.Int("validated", validated),
		slog.Int("skipped", skipped),
		slog.Int64("total_amount_cents", totalCents),
	)

	return job, nil
}
