package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recogito/studio-jobs/internal/api/dto"
	"github.com/recogito/studio-jobs/internal/auth"
	"github.com/recogito/studio-jobs/internal/dispatch"
	"github.com/recogito/studio-jobs/internal/domain"
)

// RunJob handles POST /api/run-job with a body of {"jobId": ..., <param>: ...}.
// It answers 202 once the job is queued; the token is checked by the dispatcher.
func (h *JobHandler) RunJob(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	req := dispatch.Request{Params: map[string]string{}}
	for k, v := range body {
		s, ok := v.(string)
		if !ok {
			h.fail(c, fmt.Errorf("%w: %s must be a string", domain.ErrInvalidPayload, k))
			return
		}
		if k == "jobId" {
			req.JobID = s
			continue
		}
		req.Params[k] = s
	}

	token := auth.BearerToken(c.GetHeader("Authorization"))
	job, err := h.dispatcher.Dispatch(c.Request.Context(), token, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// UploadArtifact handles PUT /api/v1/jobs/:job_id/artifact.
// Only import jobs that have not been started accept an upload.
func (h *JobHandler) UploadArtifact(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	if job.JobType != domain.JobTypeImport {
		h.fail(c, fmt.Errorf("%w: only import jobs accept uploads", domain.ErrInvalidPayload))
		return
	}
	if job.JobStatus != domain.JobStatusInitializing {
		h.fail(c, fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.JobStatus))
		return
	}

	body := io.Reader(c.Request.Body)
	if h.maxUploadBytes > 0 {
		body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	counted := &countingReader{r: body}

	if err := h.objects.Put(c.Request.Context(), job.BucketID, job.ID, counted, c.Request.ContentLength); err != nil {
		h.fail(c, err)
		return
	}

	// The job may have been run or deleted while the body was streaming.
	if err := h.checkStillInitializing(c, job); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Import file uploaded",
		slog.String("job_id", job.ID),
		slog.Int64("bytes", counted.n),
	)

	c.JSON(http.StatusOK, dto.ArtifactResponse{JobID: job.ID, Bytes: counted.n})
}

// checkStillInitializing reloads job after an upload. A deleted job has its
// object removed again; a job that already left initializing may have read
// the previous file, so the upload is reported as a conflict.
func (h *JobHandler) checkStillInitializing(c *gin.Context, job *domain.Job) error {
	ctx := context.WithoutCancel(c.Request.Context())

	current, err := h.jobs.GetJob(ctx, job.ID)
	if isNotFound(err) {
		if err := h.objects.Delete(ctx, job.BucketID, job.ID); err != nil {
			h.logger.Warn("Failed to delete orphan upload",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
		return err
	}
	if err != nil {
		return err
	}

	if current.JobStatus != domain.JobStatusInitializing {
		h.logger.Warn("Job left initializing during upload",
			slog.String("job_id", job.ID),
			slog.String("status", string(current.JobStatus)),
		)
		return fmt.Errorf("%w: job became %s during upload", domain.ErrInvalidTransition, current.JobStatus)
	}
	return nil
}

// DownloadArtifact handles GET /api/v1/jobs/:job_id/artifact
func (h *JobHandler) DownloadArtifact(c *gin.Context) {
	job, err := h.ownedJob(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	rc, err := h.objects.Get(c.Request.Context(), job.BucketID, job.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "application/zip", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.zip"`, job.ID),
	})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
