package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// RunJob asks the api service to start a job. It returns true once the job is
// dispatched, not when it completes. Without a session token no request is sent.
func (c *Client) RunJob(ctx context.Context, jobID string, params map[string]string) bool {
	token, err := c.token(ctx)
	if err != nil {
		c.logger.Warn("Cannot run job without a session", slog.String("job_id", jobID), slog.Any("error", err))
		return false
	}

	if err := c.trigger(ctx, token, jobID, params); err != nil {
		c.logger.Error("Failed to run job", slog.String("job_id", jobID), slog.Any("error", err))
		return false
	}
	return true
}

// RunImportJob uploads the import file to the job's bucket and then triggers the job.
// The trigger is never called when the upload fails.
func (c *Client) RunImportJob(ctx context.Context, jobID string, file io.Reader, params map[string]string) bool {
	token, err := c.token(ctx)
	if err != nil {
		c.logger.Warn("Cannot run import without a session", slog.String("job_id", jobID), slog.Any("error", err))
		return false
	}

	if err := c.upload(ctx, token, jobID, file); err != nil {
		c.logger.Error("Failed to upload import file", slog.String("job_id", jobID), slog.Any("error", err))
		return false
	}

	if err := c.trigger(ctx, token, jobID, params); err != nil {
		c.logger.Error("Failed to run import job", slog.String("job_id", jobID), slog.Any("error", err))
		return false
	}
	return true
}

func (c *Client) upload(ctx context.Context, token, jobID string, file io.Reader) error {
	if file == nil {
		return fmt.Errorf("no import file")
	}
	return c.do(ctx, token, http.MethodPut, "/api/v1/jobs/"+url.PathEscape(jobID)+"/artifact", file, "application/zip", nil)
}

// trigger posts {"jobId": ..., <params>} to the run endpoint through the circuit breaker
func (c *Client) trigger(ctx context.Context, token, jobID string, params map[string]string) error {
	body := make(map[string]string, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["jobId"] = jobID

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode run request: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, token, http.MethodPost, "/api/run-job", bytes.NewReader(data), "application/json", nil)
	})
	return err
}
