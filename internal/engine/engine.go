// Package engine implements the idempotent bulk-job orchestration core:
// dry-run preview, lock-guarded dispatch, queued per-item execution with
// partial-failure containment, finalization and retry. Domain logic lives
// behind the Resolver/Strategy registry; persistence behind the Store
// interface.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

// StoreTx is the slice of the store handed to WithJobLock callbacks. Item
// reads and mutations made through it share the lock's transaction, so they
// commit or roll back together with the job row update.
type StoreTx interface {
	ListItems(ctx context.Context, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error)
	CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error)
	ResetFailedItems(ctx context.Context, jobID string, itemIDs []string) (int, error)
}

// Store is the persistence contract the engine runs on. Implemented by
// internal/engine/storage on PostgreSQL and by an in-memory fake in tests.
// Outside a job lock the StoreTx methods run in autocommit.
type Store interface {
	StoreTx

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error

	// WithJobLock runs fn under an exclusive row lock on the job and
	// persists the job mutation when fn returns nil. tx is bound to the
	// lock's transaction.
	WithJobLock(ctx context.Context, jobID string, fn func(ctx context.Context, tx StoreTx, job *domain.Job) error) (*domain.Job, error)

	RebuildItems(ctx context.Context, job *domain.Job, items []domain.JobItem) error
	SaveItemOutcome(ctx context.Context, item *domain.JobItem, jobErr *domain.JobError) error
	AppendError(ctx context.Context, jobErr *domain.JobError) error
}

// TaskMessage is the payload carried through the task queue for one job
// execution pass.
type TaskMessage struct {
	TaskID  string   `json:"task_id"`
	JobID   string   `json:"job_id"`
	Mode    string   `json:"mode"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

// TaskQueue hands job execution off to the asynchronous worker pool.
type TaskQueue interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
}

// Engine wires the store, the task queue and the operation registry into the
// job orchestration state machine.
type Engine struct {
	store    Store
	queue    TaskQueue
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

// Config holds engine dependencies.
type Config struct {
	Store    Store
	Queue    TaskQueue
	Registry *Registry
	Logger   *slog.Logger
}

// New creates an Engine instance.
func New(cfg *Config) *Engine {
	return &Engine{
		store:    cfg.Store,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

const periodLayout = "2006-01"

// resolvePeriod validates the job's period token, defaulting to the current
// month when absent.
func (e *Engine) resolvePeriod(token string) (string, error) {
	if token == "" {
		return e.now().Format(periodLayout), nil
	}
	if _, err := time.Parse(periodLayout, token); err != nil {
		return "", domain.NewValidationError("invalid period %q: expected YYYY-MM", token)
	}
	return token, nil
}
