package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recogito/studio-jobs/internal/api/dto"
	"github.com/recogito/studio-jobs/internal/dispatch"
	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/storage"
	"github.com/recogito/studio-jobs/shared/objectstore"
)

// ContextUserID is the gin context key holding the authenticated user id
const ContextUserID = "user_id"

// JobStore is the job record manager as seen by the handlers
type JobStore interface {
	CreateJob(ctx context.Context, name string, jobType domain.JobType, createdBy string) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobs(ctx context.Context, filter storage.JobFilter) ([]domain.JobWithProfile, error)
	UpdateJob(ctx context.Context, update domain.JobUpdate) (*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) ([]domain.Job, error)
}

// Dispatcher starts jobs
type Dispatcher interface {
	Dispatch(ctx context.Context, token string, req dispatch.Request) (*domain.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           JobStore
	Dispatcher     Dispatcher
	Objects        objectstore.Store
	TokenVerifier  dispatch.TokenVerifier
	MaxUploadBytes int64
	HealthCheck    func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobStore
	dispatcher     Dispatcher
	objects        objectstore.Store
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		dispatcher:     deps.Dispatcher,
		objects:        deps.Objects,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingParam), errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrUnknownJobType):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dispatch.ErrPublishFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, objectstore.ErrNotFound)
}

func (h *JobHandler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, dto.ErrorResponse{Error: msg})
}

func userID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
