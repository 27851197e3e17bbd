package dto

import (
	"time"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

type ScopeDTO struct {
	Kind string `json:"kind" binding:"required"`
	ID   string `json:"id" binding:"required"`
}

type CreateJobRequest struct {
	OperationType  string         `json:"operation_type" binding:"required"`
	Scope          *ScopeDTO      `json:"scope"`
	Period         string         `json:"period"`
	IdempotencyKey string         `json:"idempotency_key"`
	Options        map[string]any `json:"options"`
	AutoDryRun     bool           `json:"auto_dry_run"`
}

type ExecuteJobRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type ListJobsRequest struct {
	OperationType string `form:"operation_type"`
	Status        string `form:"status"`
	ScopeID       string `form:"scope_id"`
	PageSize      int    `form:"page_size"`
	Cursor        string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string         `json:"job_id"`
	IdempotencyKey  string         `json:"idempotency_key"`
	OperationType   string         `json:"operation_type"`
	Status          string         `json:"status"`
	Scope           *ScopeDTO      `json:"scope,omitempty"`
	Period          string         `json:"period"`
	Options         map[string]any `json:"options"`
	Summary         map[string]any `json:"summary"`
	DryRunCompleted bool           `json:"dry_run_completed"`
	CurrentTaskID   string         `json:"current_task_id,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	StartedAt       string         `json:"started_at,omitempty"`
	FinishedAt      string         `json:"finished_at,omitempty"`
}

type JobItemDTO struct {
	ItemID           string         `json:"item_id"`
	EntityKind       string         `json:"entity_kind"`
	EntityID         string         `json:"entity_id"`
	Status           string         `json:"status"`
	AmountCents      int64          `json:"amount_cents"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	RetryCount       int            `json:"retry_count"`
	ExecutedAt       string         `json:"executed_at,omitempty"`
}

type JobErrorDTO struct {
	ErrorID   string         `json:"error_id"`
	ItemID    string         `json:"item_id,omitempty"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type JobDetailResponse struct {
	JobDTO
	ItemCounts map[string]int `json:"item_counts"`
	Items      []JobItemDTO   `json:"items"`
	Errors     []JobErrorDTO  `json:"errors"`
}

type CreateJobResponse struct {
	JobDTO
	Created bool `json:"created"`
}

type ExecuteResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id,omitempty"`
	Queued bool   `json:"queued"`
	Status string `json:"status"`
}

// FromJob maps a domain job to its transport representation.
func FromJob(job *domain.Job) JobDTO {
	d := JobDTO{
		JobID:           job.JobID,
		IdempotencyKey:  job.IdempotencyKey,
		OperationType:   job.OperationType,
		Status:          job.Status,
		Period:          job.Period,
		Options:         job.Options,
		Summary:         job.Summary,
		DryRunCompleted: job.DryRunCompleted,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if scope := job.Scope(); scope != nil {
		d.Scope = &ScopeDTO{Kind: scope.Kind, ID: scope.ID}
	}
	if job.CurrentTaskID.Valid {
		d.CurrentTaskID = job.CurrentTaskID.String
	}
	if job.StartedAt.Valid {
		d.StartedAt = job.StartedAt.Time.Format(time.RFC3339)
	}
	if job.FinishedAt.Valid {
		d.FinishedAt = job.FinishedAt.Time.Format(time.RFC3339)
	}
	return d
}

// FromItem maps a job item to its transport representation.
func FromItem(item *domain.JobItem) JobItemDTO {
	d := JobItemDTO{
		ItemID:           item.ItemID,
		EntityKind:       item.EntityKind,
		EntityID:         item.EntityID,
		Status:           item.Status,
		AmountCents:      item.AmountCents,
		ValidationErrors: item.ValidationErrors,
		Result:           item.Result,
		RetryCount:       item.RetryCount,
	}
	if item.ExecutedAt.Valid {
		d.ExecutedAt = item.ExecutedAt.Time.Format(time.RFC3339)
	}
	return d
}

// FromError maps a job error record to its transport representation.
func FromError(jobErr *domain.JobError) JobErrorDTO {
	d := JobErrorDTO{
		ErrorID:   jobErr.ErrorID,
		Code:      jobErr.Code,
		Message:   jobErr.Message,
		Details:   jobErr.Details,
		CreatedAt: jobErr.CreatedAt.Format(time.RFC3339),
	}
	if jobErr.ItemID.Valid {
		d.ItemID = jobErr.ItemID.String
	}
	return d
}
