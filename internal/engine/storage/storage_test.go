package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &Storage{
		db:     sqlx.NewDb(db, "postgres"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return s, mock
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_id", "idempotency_key", "operation_type", "status", "scope_kind", "scope_id",
		"period", "options", "summary", "dry_run_completed", "current_task_id",
		"created_at", "updated_at", "started_at", "finished_at",
	})
}

func addJobRow(rows *sqlmock.Rows, jobID, status string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		jobID, "key-"+jobID, domain.OpIssueMonthlyCharges, status, nil, nil,
		"2025-03", []byte(`{}`), []byte(`{}`), false, nil,
		now, now, nil, nil,
	)
}

func TestStorage_GetJob(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1`).
			WithArgs("job-1").
			WillReturnRows(addJobRow(jobRows(), "job-1", domain.JobStatusPending))

		job, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", job.JobID)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1`).
			WithArgs("missing").
			WillReturnRows(jobRows())

		_, err := s.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_CreateJob(t *testing.T) {
	ctx := context.Background()

	newJob := func() *domain.Job {
		now := time.Now()
		return &domain.Job{
			JobID:          "job-1",
			IdempotencyKey: "key-1",
			OperationType:  domain.OpIssueMonthlyCharges,
			Status:         domain.JobStatusPending,
			Period:         "2025-03",
			Options:        domain.JSONMap{},
			Summary:        domain.JSONMap{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`INSERT INTO jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.CreateJob(ctx, newJob()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`INSERT INTO jobs`).
			WillReturnError(&pq.Error{Code: uniqueViolation})

		err := s.CreateJob(ctx, newJob())
		assert.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_WithJobLock(t *testing.T) {
	ctx := context.Background()

	t.Run("locks, mutates and commits", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1 FOR UPDATE`).
			WithArgs("job-1").
			WillReturnRows(addJobRow(jobRows(), "job-1", domain.JobStatusPreviewed))
		mock.ExpectExec(`UPDATE jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		job, err := s.WithJobLock(ctx, "job-1", func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error {
			job.Status = domain.JobStatusRunning
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retry reset rides the lock transaction", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1 FOR UPDATE`).
			WithArgs("job-1").
			WillReturnRows(addJobRow(jobRows(), "job-1", domain.JobStatusPartial))
		mock.ExpectExec(`UPDATE job_items`).
			WithArgs(domain.ItemStatusValidated, "job-1", domain.ItemStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`UPDATE jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		job, err := s.WithJobLock(ctx, "job-1", func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error {
			reset, resetErr := stx.ResetFailedItems(ctx, job.JobID, nil)
			require.NoError(t, resetErr)
			assert.Equal(t, 2, reset)
			job.Status = domain.JobStatusRunning
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn error discards an already applied reset", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1 FOR UPDATE`).
			WithArgs("job-1").
			WillReturnRows(addJobRow(jobRows(), "job-1", domain.JobStatusPartial))
		mock.ExpectExec(`UPDATE job_items`).
			WithArgs(domain.ItemStatusValidated, "job-1", domain.ItemStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectRollback()

		_, err := s.WithJobLock(ctx, "job-1", func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error {
			_, resetErr := stx.ResetFailedItems(ctx, job.JobID, nil)
			require.NoError(t, resetErr)
			return domain.NewValidationError("job %s has no validated items", job.JobID)
		})
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn error rolls back without persisting", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1 FOR UPDATE`).
			WithArgs("job-1").
			WillReturnRows(addJobRow(jobRows(), "job-1", domain.JobStatusCanceled))
		mock.ExpectRollback()

		_, err := s.WithJobLock(ctx, "job-1", func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error {
			return domain.NewValidationError("job %s is canceled", job.JobID)
		})
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM jobs WHERE job_id = \$1 FOR UPDATE`).
			WithArgs("missing").
			WillReturnRows(jobRows())
		mock.ExpectRollback()

		_, err := s.WithJobLock(ctx, "missing", func(ctx context.Context, stx engine.StoreTx, job *domain.Job) error {
			t.Fatal("fn must not run for a missing job")
			return nil
		})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestStorage_RebuildItems(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStorage(t)

	job := &domain.Job{
		JobID:   "job-1",
		Status:  domain.JobStatusPreviewed,
		Options: domain.JSONMap{},
		Summary: domain.JSONMap{},
	}
	items := []domain.JobItem{
		{ItemID: "item-1", JobID: "job-1", EntityKind: "building", EntityID: "b-1", Status: domain.ItemStatusValidated},
		{ItemID: "item-2", JobID: "job-1", EntityKind: "building", EntityID: "b-2", Status: domain.ItemStatusSkipped},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM job_errors WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM job_items WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO job_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RebuildItems(ctx, job, items))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_CountItemsByStatus(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM job_items WHERE job_id = \$1 GROUP BY status`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(domain.ItemStatusExecuted, 5).
			AddRow(domain.ItemStatusFailed, 2))

	counts, err := s.CountItemsByStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		domain.ItemStatusExecuted: 5,
		domain.ItemStatusFailed:   2,
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ResetFailedItems(t *testing.T) {
	ctx := context.Background()

	t.Run("all failed items", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE job_items`).
			WithArgs(domain.ItemStatusValidated, "job-1", domain.ItemStatusFailed).
			WillReturnResult(sqlmock.NewResult(0, 3))

		reset, err := s.ResetFailedItems(ctx, "job-1", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, reset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("explicit subset", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectExec(`UPDATE job_items`).
			WithArgs(domain.ItemStatusValidated, "job-1", domain.ItemStatusFailed, "item-1", "item-2").
			WillReturnResult(sqlmock.NewResult(0, 2))

		reset, err := s.ResetFailedItems(ctx, "job-1", []string{"item-1", "item-2"})
		require.NoError(t, err)
		assert.Equal(t, 2, reset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_SaveItemOutcome(t *testing.T) {
	ctx := context.Background()

	item := &domain.JobItem{
		ItemID: "item-1",
		JobID:  "job-1",
		Status: domain.ItemStatusFailed,
		Result: domain.JSONMap{"error": "boom"},
	}

	t.Run("with job error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE job_items`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO job_errors`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		jobErr := &domain.JobError{
			ErrorID: "err-1",
			JobID:   "job-1",
			Code:    "execution_error",
			Message: "boom",
			Details: domain.JSONMap{},
		}
		require.NoError(t, s.SaveItemOutcome(ctx, item, jobErr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without job error", func(t *testing.T) {
		s, mock := newMockStorage(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE job_items`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.SaveItemOutcome(ctx, item, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_ListJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches one extra row for pagination", func(t *testing.T) {
		s, mock := newMockStorage(t)

		rows := jobRows()
		addJobRow(rows, "job-3", domain.JobStatusCompleted)
		addJobRow(rows, "job-2", domain.JobStatusCompleted)
		addJobRow(rows, "job-1", domain.JobStatusCompleted)

		mock.ExpectQuery(`FROM jobs WHERE 1=1 ORDER BY created_at DESC, job_id DESC LIMIT \$1`).
			WithArgs(3).
			WillReturnRows(rows)

		jobs, err := s.ListJobs(ctx, domain.JobFilter{PageSize: 2})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applies filters and cursor", func(t *testing.T) {
		s, mock := newMockStorage(t)

		cursorAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`FROM jobs WHERE 1=1 AND operation_type = \$1 AND status = \$2 AND \(created_at, job_id\) < \(\$3, \$4\) ORDER BY created_at DESC, job_id DESC LIMIT \$5`).
			WithArgs(domain.OpSendPaymentReminders, domain.JobStatusCompleted, cursorAt, "job-9", 21).
			WillReturnRows(jobRows())

		jobs, err := s.ListJobs(ctx, domain.JobFilter{
			OperationType: domain.OpSendPaymentReminders,
			Status:        domain.JobStatusCompleted,
			PageSize:      20,
			Cursor:        &domain.JobCursor{CreatedAt: cursorAt, JobID: "job-9"},
		})
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
