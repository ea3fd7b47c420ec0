package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recogito/studio-jobs/internal/domain"
)

func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := range w.concurrency {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case msg := <-w.jobsChan:
			w.handle(ctx, workerName, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, workerName string, msg *domain.JobMessage) {
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
	)

	err := w.processJob(ctx, msg)
	if err == nil {
		if ackErr := w.queue.Ack(msg.DeliveryTag); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
		return
	}

	requeue := shouldRequeueJob(err)
	logger.Error("Job message not handled",
		slog.Any("error", err),
		slog.Bool("requeue", requeue),
	)

	if nackErr := w.queue.Nack(msg.DeliveryTag, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.Any("error", nackErr))
	}
}

// shouldRequeueJob requeues transient failures only
func shouldRequeueJob(err error) bool {
	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
