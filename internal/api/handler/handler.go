package handler

import (
	"context"
	"log/slog"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// JobEngine is the slice of the engine the handlers drive.
type JobEngine interface {
	CreateJob(ctx context.Context, p engine.CreateParams) (*domain.Job, bool, error)
	BuildDryRun(ctx context.Context, jobID string) (*domain.Job, error)
	QueueExecution(ctx context.Context, jobID, mode string, itemIDs []string) (string, bool, error)
	Retry(ctx context.Context, jobID string, itemIDs []string) (string, bool, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
}

// JobStore is the read side the handlers query directly.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	ListItems(ctx context.Context, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error)
	ListErrors(ctx context.Context, jobID string) ([]domain.JobError, error)
	CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Engine JobEngine
	Store  JobStore
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	engine JobEngine
	store  JobStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		engine: deps.Engine,
		store:  deps.Store,
	}
}
