// Package dispatch authenticates run requests, claims the job and hands it to the worker queue.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recogito/studio-jobs/internal/domain"
)

// ErrPublishFailed is returned when the job could not be handed to the queue.
// The job has been moved to error by the time it is returned.
var ErrPublishFailed = errors.New("failed to hand job to worker queue")

// JobStore is the part of the job store the dispatcher needs
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	TransitionStatus(ctx context.Context, jobID string, from, to domain.JobStatus) error
}

// Publisher sends a message to the worker queue
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// TokenVerifier resolves a bearer token to a user id
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Request names the job to run and its parameters
type Request struct {
	JobID  string
	Params map[string]string
}

// requiredParams lists the parameters each job type must be run with
var requiredParams = map[domain.JobType][]string{
	domain.JobTypeExport: {domain.ParamProjectID},
}

// Dispatcher runs the server side of a run request
type Dispatcher struct {
	jobs      JobStore
	publisher Publisher
	tokens    TokenVerifier
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(jobs JobStore, publisher Publisher, tokens TokenVerifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:      jobs,
		publisher: publisher,
		tokens:    tokens,
		logger:    logger,
	}
}

// Dispatch verifies the token, checks the caller owns the job, moves it to processing
// and publishes it. It returns once the job is queued, not when it completes.
// Nothing is written before the token and ownership checks pass.
func (d *Dispatcher) Dispatch(ctx context.Context, token string, req Request) (*domain.Job, error) {
	userID, err := d.tokens.Verify(token)
	if err != nil {
		d.logger.Warn("Rejected run request", slog.String("job_id", req.JobID), slog.Any("error", err))
		return nil, err
	}

	if req.JobID == "" {
		return nil, fmt.Errorf("%w: jobId", domain.ErrMissingParam)
	}

	job, err := d.jobs.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}

	if job.CreatedBy != userID {
		return nil, fmt.Errorf("%w: job %s belongs to another user", domain.ErrForbidden, job.ID)
	}

	for _, name := range requiredParams[job.JobType] {
		if req.Params[name] == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingParam, name)
		}
	}

	if err := d.jobs.TransitionStatus(ctx, job.ID, domain.JobStatusInitializing, domain.JobStatusProcessing); err != nil {
		return nil, err
	}
	job.JobStatus = domain.JobStatusProcessing

	body, err := json.Marshal(domain.RunMessage{
		JobID:   job.ID,
		JobType: job.JobType,
		Params:  req.Params,
	})
	if err == nil {
		err = d.publisher.Publish(ctx, body)
	}
	if err != nil {
		d.logger.Error("Failed to publish job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)

		// The caller may already be gone; the job still has to reach a terminal status.
		if terr := d.jobs.TransitionStatus(context.WithoutCancel(ctx), job.ID, domain.JobStatusProcessing, domain.JobStatusError); terr != nil {
			d.logger.Error("Failed to mark job as error",
				slog.String("job_id", job.ID),
				slog.Any("error", terr),
			)
		} else {
			job.JobStatus = domain.JobStatusError
		}
		return job, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	d.logger.Info("Job dispatched",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.JobType)),
		slog.String("user_id", userID),
	)

	return job, nil
}
