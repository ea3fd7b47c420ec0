package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/recogito/studio-jobs/internal/domain"
)

// processJob runs one dispatched job and records its terminal status.
// A nil return acks the message; a RetryableError requeues it.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		w.logger.Warn("Job no longer exists, skipping", slog.String("job_id", msg.JobID))
		return nil
	}
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.JobStatus != domain.JobStatusProcessing {
		w.logger.Warn("Job is not processing, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.JobStatus)),
		)
		return nil
	}

	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.JobType)),
	)

	runErr := w.execute(ctx, job, msg.Params)

	// Shutting down: leave the job processing and let another worker pick the message up.
	if runErr != nil && ctx.Err() != nil {
		return domain.NewRetryableError(fmt.Errorf("worker stopped during job: %w", runErr))
	}

	to := domain.JobStatusComplete
	if runErr != nil {
		to = domain.JobStatusError
		logger.Error("Job failed", slog.Any("error", runErr))
	}

	// the outcome is known; record it even if shutdown has begun
	if err := w.jobs.TransitionStatus(context.WithoutCancel(ctx), job.ID, domain.JobStatusProcessing, to); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("Job changed while running, status not recorded", slog.Any("error", err))
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record job status: %w", err))
	}

	logger.Info("Job finished", slog.String("status", string(to)))
	return nil
}

func (w *Worker) execute(ctx context.Context, job *domain.Job, params map[string]string) (err error) {
	exec, ok := w.executors[job.JobType]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.JobType)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Executor panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return exec.Execute(jobCtx, job, params)
}
