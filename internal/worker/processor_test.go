package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

type fakeTaskEngine struct {
	executeErr error
	executed   int

	failedJobID string
	failedCode  string
	failJobErr  error
}

func (f *fakeTaskEngine) Execute(ctx context.Context, jobID string, itemIDs []string) (*domain.Job, error) {
	f.executed++
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &domain.Job{JobID: jobID, Status: domain.JobStatusCompleted}, nil
}

func (f *fakeTaskEngine) FailJob(ctx context.Context, jobID, code string, cause error) error {
	f.failedJobID = jobID
	f.failedCode = code
	return f.failJobErr
}

func newTestWorker(eng TaskEngine) *Worker {
	return &Worker{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		engine:      eng,
		taskTimeout: time.Second,
		workerID:    "bulkops-worker-test",
	}
}

func newTaskDelivery(redelivered bool) *taskDelivery {
	return &taskDelivery{
		msg: engine.TaskMessage{
			TaskID:  "task-1",
			JobID:   "8f14e45f-ceea-4672-a0bb-7d5e1a3f9c21",
			Mode:    domain.ModeExecute,
			ItemIDs: []string{"item-1"},
		},
		deliveryTag: 1,
		redelivered: redelivered,
	}
}

func TestProcessTask(t *testing.T) {
	ctx := context.Background()

	t.Run("success acks", func(t *testing.T) {
		eng := &fakeTaskEngine{}
		w := newTestWorker(eng)

		err := w.processTask(ctx, newTaskDelivery(false))
		require.NoError(t, err)
		assert.Equal(t, 1, eng.executed)
		assert.Empty(t, eng.failedJobID)
	})

	t.Run("first failure asks for redelivery", func(t *testing.T) {
		eng := &fakeTaskEngine{executeErr: errors.New("database down")}
		w := newTestWorker(eng)

		err := w.processTask(ctx, newTaskDelivery(false))
		require.Error(t, err)

		var retryable *RetryableError
		assert.True(t, errors.As(err, &retryable))
		assert.Empty(t, eng.failedJobID, "job must not be failed on the first attempt")
	})

	t.Run("failed redelivery marks the job FAILED", func(t *testing.T) {
		eng := &fakeTaskEngine{executeErr: errors.New("database down")}
		w := newTestWorker(eng)

		task := newTaskDelivery(true)
		err := w.processTask(ctx, task)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskExhausted)
		assert.Equal(t, task.msg.JobID, eng.failedJobID)
		assert.Equal(t, "worker_error", eng.failedCode)
	})

	t.Run("FailJob errors are swallowed, exhaustion still surfaces", func(t *testing.T) {
		eng := &fakeTaskEngine{
			executeErr: errors.New("database down"),
			failJobErr: errors.New("database still down"),
		}
		w := newTestWorker(eng)

		err := w.processTask(ctx, newTaskDelivery(true))
		assert.ErrorIs(t, err, ErrTaskExhausted)
	})

	t.Run("validation rejection is terminal on first delivery", func(t *testing.T) {
		eng := &fakeTaskEngine{executeErr: domain.NewValidationError("job is canceled")}
		w := newTestWorker(eng)

		err := w.processTask(ctx, newTaskDelivery(false))
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
		assert.Empty(t, eng.failedJobID)
	})
}

func TestShouldRequeueTask(t *testing.T) {
	w := newTestWorker(&fakeTaskEngine{})

	tests := []struct {
		name    string
		err     error
		requeue bool
	}{
		{
			name:    "retryable error",
			err:     NewRetryableError(errors.New("database down")),
			requeue: true,
		},
		{
			name:    "validation error",
			err:     domain.NewValidationError("job is canceled"),
			requeue: false,
		},
		{
			name:    "exhausted task",
			err:     ErrTaskExhausted,
			requeue: false,
		},
		{
			name:    "unknown error",
			err:     errors.New("something odd"),
			requeue: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.requeue, w.shouldRequeueTask(tt.err))
		})
	}
}
