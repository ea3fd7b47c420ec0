package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/recogito/studio-jobs/internal/api/dto"
	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	jobType := domain.JobType(req.JobType)
	if !jobType.Valid() {
		h.fail(c, fmt.Errorf("%w: %q", domain.ErrUnknownJobType, req.JobType))
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), req.Name, jobType, userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs. Only the caller's jobs are listed.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filter := storage.JobFilter{
		CreatedBy: userID(c),
		PageSize:  req.PageSize,
	}
	if req.JobType != "" {
		filter.JobType = domain.JobType(req.JobType)
		if !filter.JobType.Valid() {
			h.fail(c, fmt.Errorf("%w: job_type %q", domain.ErrInvalidPayload, req.JobType))
			return
		}
	}
	if req.Status != "" {
		filter.Status = domain.JobStatus(req.Status)
		if !filter.Status.Valid() {
			h.fail(c, fmt.Errorf("%w: status %q", domain.ErrInvalidPayload, req.Status))
			return
		}
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
		return
	}
	filter.Cursor = cursor

	jobs, err := h.jobs.GetJobs(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := dto.ListJobsResponse{Data: jobs}
	if len(jobs) > req.PageSize {
		resp.Data = jobs[:req.PageSize]
		resp.HasMore = true
		last := resp.Data[len(resp.Data)-1]
		resp.NextCursor = EncodeJobCursor(storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

// UpdateJob handles PATCH /api/v1/jobs/:job_id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.JobStatus != nil {
		h.fail(c, fmt.Errorf("%w: job_status is managed by the server", domain.ErrInvalidPayload))
		return
	}
	if req.Name == nil || *req.Name == "" {
		h.fail(c, fmt.Errorf("%w: name", domain.ErrMissingParam))
		return
	}

	job, err := h.ownedJob(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	updated, err := h.jobs.UpdateJob(c.Request.Context(), domain.JobUpdate{ID: job.ID, Name: req.Name})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id.
// A missing job yields an empty list; the stored artifact is removed with the record.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, err := h.ownedJob(c)
	if isNotFound(err) {
		c.JSON(http.StatusOK, dto.DeleteJobResponse{Deleted: []domain.Job{}})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	deleted, err := h.jobs.DeleteJob(c.Request.Context(), job.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.objects.Delete(c.Request.Context(), job.BucketID, job.ID); err != nil {
		h.logger.Warn("Failed to delete job artifact",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	c.JSON(http.StatusOK, dto.DeleteJobResponse{Deleted: deleted})
}

// ownedJob loads the :job_id job and checks the caller created it
func (h *JobHandler) ownedJob(c *gin.Context) (*domain.Job, error) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job_id must be a valid UUID", domain.ErrInvalidPayload)
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != userID(c) {
		return nil, fmt.Errorf("%w: job %s belongs to another user", domain.ErrForbidden, job.ID)
	}
	return job, nil
}
