package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/shared/postgresql"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

const jobColumns = `
	job_id, idempotency_key, operation_type, status, scope_kind, scope_id,
	period, options, summary, dry_run_completed, current_task_id,
	created_at, updated_at, started_at, finished_at
`

const itemColumns = `
	item_id, job_id, entity_kind, entity_id, status, amount_cents,
	payload, validation_errors, result, retry_count, executed_at, created_at
`

// Storage handles all database operations for the bulk-job engine.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateJob inserts a new job row.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (
			:job_id, :idempotency_key, :operation_type, :status, :scope_kind, :scope_id,
			:period, :options, :summary, :dry_run_completed, :current_task_id,
			:created_at, :updated_at, :started_at, :finished_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetJobByIdempotencyKey returns the job holding the given idempotency key,
// or domain.ErrJobNotFound when the key is unused.
func (s *Storage) GetJobByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = $1`

	err := s.db.GetContext(ctx, &job, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}

	return &job, nil
}

// UpdateJob persists all mutable job columns.
func (s *Storage) UpdateJob(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now()
	return s.updateJob(ctx, s.db, job)
}

type execer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

func (s *Storage) updateJob(ctx context.Context, ex execer, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = :status,
			period = :period,
			options = :options,
			summary = :summary,
			dry_run_completed = :dry_run_completed,
			current_task_id = :current_task_id,
			started_at = :started_at,
			finished_at = :finished_at,
			updated_at = :updated_at
		WHERE job_id = :job_id
	`

	if _, err := ex.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// txStorage exposes the item operations bound to an open job-lock
// transaction. Mutations made through it become durable only when the lock
// commits.
type txStorage struct {
	s  *Storage
	tx *sqlx.Tx
}

func (t *txStorage) ListItems(ctx context.Context, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error) {
	return t.s.listItems(ctx, t.tx, jobID, filter)
}

func (t *txStorage) CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error) {
	return t.s.countItemsByStatus(ctx, t.tx, jobID)
}

func (t *txStorage) ResetFailedItems(ctx context.Context, jobID string, itemIDs []string) (int, error) {
	return t.s.resetFailedItems(ctx, t.tx, jobID, itemIDs)
}

// WithJobLock runs fn with an exclusive row lock on the job, acquired via
// SELECT ... FOR UPDATE inside a transaction. This is the single
// serialization point of the engine: every status transition that could race
// (first dispatch, in-flight detection, retry re-queue) happens inside fn.
// Item access through the StoreTx rides the same transaction, so the job row
// update and fn's item mutations are persisted together only when fn returns
// nil.
func (s *Storage) WithJobLock(ctx context.Context, jobID string, fn func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	if err := fn(ctx, &txStorage{s: s, tx: tx}, &job); err != nil {
		return nil, err
	}

	job.UpdatedAt = time.Now()
	if err := s.updateJob(ctx, tx, &job); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job lock transaction: %w", err)
	}

	return &job, nil
}

// RebuildItems atomically replaces the job's items and errors with the given
// set and persists the job row in the same transaction. A dry run is always
// a full recompute, never an incremental patch.
func (s *Storage) RebuildItems(ctx context.Context, job *domain.Job, items []domain.JobItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_errors WHERE job_id = $1`, job.JobID); err != nil {
		return fmt.Errorf("failed to clear job errors: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_items WHERE job_id = $1`, job.JobID); err != nil {
		return fmt.Errorf("failed to clear job items: %w", err)
	}

	insert := `
		INSERT INTO job_items (` + itemColumns + `)
		VALUES (
			:item_id, :job_id, :entity_kind, :entity_id, :status, :amount_cents,
			:payload, :validation_errors, :result, :retry_count, :executed_at, :created_at
		)
	`
	for i := range items {
		if _, err := tx.NamedExecContext(ctx, insert, &items[i]); err != nil {
			return fmt.Errorf("failed to insert job item %s: %w", items[i].Entity(), err)
		}
	}

	job.UpdatedAt = time.Now()
	if err := s.updateJob(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dry-run rebuild: %w", err)
	}

	s.logger.Debug("Job items rebuilt",
		slog.String("job_id", job.JobID),
		slog.Int("item_count", len(items)),
	)

	return nil
}

// ListItems returns the job's items in stable creation order, optionally
// filtered by status and item id.
func (s *Storage) ListItems(ctx context.Context, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error) {
	return s.listItems(ctx, s.db, jobID, filter)
}

func (s *Storage) listItems(ctx context.Context, q sqlx.ExtContext, jobID string, filter domain.ItemFilter) ([]domain.JobItem, error) {
	query := `SELECT ` + itemColumns + ` FROM job_items WHERE job_id = ?`
	args := []interface{}{jobID}

	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, filter.Statuses)
	}

	if len(filter.ItemIDs) > 0 {
		query += ` AND item_id IN (?)`
		args = append(args, filter.ItemIDs)
	}

	query += ` ORDER BY created_at ASC, item_id ASC`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	var items []domain.JobItem
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(query), inArgs...); err != nil {
		return nil, fmt.Errorf("failed to list job items: %w", err)
	}

	return items, nil
}

// CountItemsByStatus returns the per-status item counts for a job.
func (s *Storage) CountItemsByStatus(ctx context.Context, jobID string) (map[string]int, error) {
	return s.countItemsByStatus(ctx, s.db, jobID)
}

func (s *Storage) countItemsByStatus(ctx context.Context, q sqlx.ExtContext, jobID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM job_items WHERE job_id = $1 GROUP BY status`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count job items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan item count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item counts: %w", err)
	}

	return counts, nil
}

// SaveItemOutcome commits one item's execution outcome, together with its
// JobError when the item failed, in a transaction of its own. The per-item
// transaction boundary is what keeps one item's failure from rolling back
// the commits of sibling items.
func (s *Storage) SaveItemOutcome(ctx context.Context, item *domain.JobItem, jobErr *domain.JobError) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE job_items
		SET status = :status,
			result = :result,
			retry_count = :retry_count,
			executed_at = :executed_at
		WHERE item_id = :item_id
	`
	if _, err := tx.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("failed to update job item: %w", err)
	}

	if jobErr != nil {
		if err := s.insertError(ctx, tx, jobErr); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item outcome: %w", err)
	}

	return nil
}

// ResetFailedItems flips FAILED items (optionally restricted to itemIDs) back
// to VALIDATED and increments their retry count. Returns the number of items
// reset. The dispatch gate calls this through the job-lock StoreTx so the
// increments never outlive a failed dispatch.
func (s *Storage) ResetFailedItems(ctx context.Context, jobID string, itemIDs []string) (int, error) {
	return s.resetFailedItems(ctx, s.db, jobID, itemIDs)
}

func (s *Storage) resetFailedItems(ctx context.Context, q sqlx.ExtContext, jobID string, itemIDs []string) (int, error) {
	query := `
		UPDATE job_items
		SET status = ?, retry_count = retry_count + 1, result = '{}'
		WHERE job_id = ? AND status = ?
	`
	args := []interface{}{domain.ItemStatusValidated, jobID, domain.ItemStatusFailed}

	if len(itemIDs) > 0 {
		query += ` AND item_id IN (?)`
		args = append(args, itemIDs)
	}

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to build reset query: %w", err)
	}

	result, err := q.ExecContext(ctx, q.Rebind(query), inArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}

// AppendError records a job-level or item-level failure. The table is
// append-only.
func (s *Storage) AppendError(ctx context.Context, jobErr *domain.JobError) error {
	return s.insertError(ctx, s.db, jobErr)
}

func (s *Storage) insertError(ctx context.Context, ex execer, jobErr *domain.JobError) error {
	query := `
		INSERT INTO job_errors (error_id, job_id, item_id, code, message, details, created_at)
		VALUES (:error_id, :job_id, :item_id, :code, :message, :details, :created_at)
	`
	if _, err := ex.NamedExecContext(ctx, query, jobErr); err != nil {
		return fmt.Errorf("failed to append job error: %w", err)
	}
	return nil
}

// ListErrors returns the job's error records, oldest first.
func (s *Storage) ListErrors(ctx context.Context, jobID string) ([]domain.JobError, error) {
	var errs []domain.JobError
	query := `
		SELECT error_id, job_id, item_id, code, message, details, created_at
		FROM job_errors
		WHERE job_id = $1
		ORDER BY created_at ASC, error_id ASC
	`
	if err := s.db.SelectContext(ctx, &errs, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job errors: %w", err)
	}
	return errs, nil
}

// ListJobs lists jobs newest first with keyset pagination. One extra row is
// fetched so the caller can detect whether more results exist.
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OperationType != "" {
		query += fmt.Sprintf(" AND operation_type = $%d", argIdx)
		args = append(args, filter.OperationType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.ScopeID != "" {
		query += fmt.Sprintf(" AND scope_id = $%d", argIdx)
		args = append(args, filter.ScopeID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
