// Package worker consumes queued bulk-job tasks from RabbitMQ and drives
// them through the execution engine.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proptech-labs/bulkops-be/internal/engine"
	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
	"github.com/proptech-labs/bulkops-be/shared/rabbitmq"
)

// TaskEngine is the slice of the engine the worker drives.
type TaskEngine interface {
	Execute(ctx context.Context, jobID string, itemIDs []string) (*domain.Job, error)
	FailJob(ctx context.Context, jobID, code string, cause error) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Engine        TaskEngine
	Concurrency   int
	TaskTimeout   time.Duration
	PrefetchCount int
	QueueName     string
}

// taskDelivery pairs a parsed task message with its broker bookkeeping.
type taskDelivery struct {
	msg         engine.TaskMessage
	deliveryTag uint64
	redelivered bool
}

// Worker represents the bulk-job task worker
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	engine        TaskEngine
	concurrency   int
	taskTimeout   time.Duration
	prefetchCount int
	queueName     string
	workerID      string
	tasksChan     chan *taskDelivery
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		engine:        cfg.Engine,
		concurrency:   cfg.Concurrency,
		taskTimeout:   cfg.TaskTimeout,
		prefetchCount: cfg.PrefetchCount,
		queueName:     cfg.QueueName,
		workerID:      "bulkops-worker-" + uuid.New().String()[:8],
		tasksChan:     make(chan *taskDelivery),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing tasks. Blocks until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("task_timeout", w.taskTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
