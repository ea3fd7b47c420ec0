package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would move a job backwards or skip a state
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnauthorized is returned when no valid session token is presented
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller does not own the job
	ErrForbidden = errors.New("forbidden")

	// ErrMissingParam is returned when a job is run without a required parameter
	ErrMissingParam = errors.New("missing job parameter")

	// ErrUnknownJobType is returned when no executor is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrInvalidPayload is returned when a queue message or import bundle is malformed
	ErrInvalidPayload = errors.New("invalid job payload")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
