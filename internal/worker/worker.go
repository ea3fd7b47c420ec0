// Package worker consumes dispatched jobs from RabbitMQ and runs them on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/recogito/studio-jobs/internal/domain"
)

// JobStore is the part of the job store the worker needs
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error
}

// Queue delivers job messages and takes acknowledgements
type Queue interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Jobs        JobStore
	Queue       Queue
	Executors   map[domain.JobType]Executor
	WorkerID    string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker runs dispatched jobs
type Worker struct {
	logger      *slog.Logger
	jobs        JobStore
	queue       Queue
	executors   map[domain.JobType]Executor
	workerID    string
	concurrency int
	jobTimeout  time.Duration
	jobsChan    chan *domain.JobMessage
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewWorker creates a worker. Concurrency below 1 is treated as 1.
func NewWorker(cfg *Config) *Worker {
	concurrency := max(cfg.Concurrency, 1)

	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return &Worker{
		logger:      cfg.Logger,
		jobs:        cfg.Jobs,
		queue:       cfg.Queue,
		executors:   cfg.Executors,
		workerID:    workerID,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		jobsChan:    make(chan *domain.JobMessage),
		stopChan:    make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or the delivery channel closes.
// A closed delivery channel is reported as an error so the service can restart.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if closed := w.startMessageDispatcher(ctx, deliveries); closed {
		return errors.New("rabbitmq delivery channel closed")
	}
	return nil
}

// Stop signals the pool and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
