package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/internal/telemetry"
)

// CreateParams collects the inputs for job creation.
type CreateParams struct {
	OperationType  string
	Scope          *domain.EntityRef
	Period         string
	IdempotencyKey string
	Options        domain.JSONMap
	AutoDryRun     bool
}

// CreateJob creates a job, honoring the outward-facing idempotency contract:
// when a job with the same idempotency key already exists it is returned
// as-is and created is false. The key is caller-supplied or derived
// deterministically from operation type, scope, period and the current date.
func (e *Engine) CreateJob(ctx context.Context, p CreateParams) (*domain.Job, bool, error) {
	if e.registry.Resolver(p.OperationType) == nil {
		return nil, false, domain.NewValidationError("unsupported operation type %q", p.OperationType)
	}

	period, err := e.resolvePeriod(p.Period)
	if err != nil {
		return nil, false, err
	}

	key := p.IdempotencyKey
	if key == "" {
		scope := "all"
		if p.Scope != nil {
			scope = p.Scope.String()
		}
		key = fmt.Sprintf("%s:%s:%s:%s", p.OperationType, scope, period, e.now().Format("2006-01-02"))
	}

	if existing, err := e.store.GetJobByIdempotencyKey(ctx, key); err == nil {
		e.logger.Info("Job creation deduplicated by idempotency key",
			slog.String("job_id", existing.JobID),
			slog.String("idempotency_key", key),
		)
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrJobNotFound) {
		return nil, false, err
	}

	now := e.now()
	job := &domain.Job{
		JobID:          uuid.New().String(),
		IdempotencyKey: key,
		OperationType:  p.OperationType,
		Status:         domain.JobStatusPending,
		Period:         period,
		Options:        p.Options,
		Summary:        domain.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.Options == nil {
		job.Options = domain.JSONMap{}
	}
	if p.Scope != nil {
		job.ScopeKind = sql.NullString{String: p.Scope.Kind, Valid: true}
		job.ScopeID = sql.NullString{String: p.Scope.ID, Valid: true}
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// lost the insert race; the winner's job is the job
			existing, getErr := e.store.GetJobByIdempotencyKey(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	telemetry.JobsCreated.Inc()

	e.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("operation_type", job.OperationType),
		slog.String("period", period),
		slog.String("idempotency_key", key),
	)

	if p.AutoDryRun {
		return e.autoDryRun(ctx, job)
	}

	return job, true, nil
}

func (e *Engine) autoDryRun(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	previewed, err := e.BuildDryRun(ctx, job.JobID)
	if err != nil {
		// the job itself was created; surface it with the dry-run failure
		return job, true, err
	}
	return previewed, true, nil
}

// Cancel moves a job to CANCELED. Only reachable before the first RUNNING
// transition; in-flight execution is never preempted.
func (e *Engine) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := e.store.WithJobLock(ctx, jobID, func(ctx context.Context, _ StoreTx, job *domain.Job) error {
		if !domain.CanCancel(job.Status) {
			return domain.NewValidationError("job %s in status %s cannot be canceled", job.JobID, job.Status)
		}
		job.Status = domain.JobStatusCanceled
		job.FinishedAt = sql.NullTime{Time: e.now(), Valid: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Job canceled",
		slog.String("job_id", jobID),
	)

	return job, nil
}
