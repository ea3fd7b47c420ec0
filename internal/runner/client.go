// Package runner is the client side of the job API: it creates jobs, uploads
// import files and triggers runs on behalf of a signed-in user.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/recogito/studio-jobs/internal/domain"
)

// ErrNoToken is returned when the token source yields an empty token
var ErrNoToken = errors.New("no session token available")

// TokenSource yields the current user's session token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, e.g. read from a flag or the environment
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// StatusError is a non-2xx response from the API
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *slog.Logger
	// BreakerFailures consecutive trigger failures open the breaker for BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client talks to the api service
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "run-job",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about the server's health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		http:    httpClient,
		logger:  logger,
		breaker: breaker,
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrNoToken
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// do sends a request and decodes a JSON response into out when out is non-nil
func (c *Client) do(ctx context.Context, token, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err = io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, token, method, path, body, "application/json", out)
}

// CreateJob creates a job record owned by the token's user
func (c *Client) CreateJob(ctx context.Context, name string, jobType domain.JobType) (*domain.Job, error) {
	var job domain.Job
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs", map[string]string{
		"name":     name,
		"job_type": string(jobType),
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job record
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobPage is one page of a job listing
type JobPage struct {
	Data       []domain.JobWithProfile `json:"data"`
	NextCursor string                  `json:"next_cursor,omitempty"`
	HasMore    bool                    `json:"has_more"`
}

// ListJobs lists the user's jobs newest first
func (c *Client) ListJobs(ctx context.Context, query url.Values) (*JobPage, error) {
	path := "/api/v1/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var page JobPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteJob deletes a job and returns the deleted rows
func (c *Client) DeleteJob(ctx context.Context, jobID string) ([]domain.Job, error) {
	var resp struct {
		Deleted []domain.Job `json:"deleted"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deleted, nil
}

// DownloadArtifact streams the job's stored archive into w
func (c *Client) DownloadArtifact(ctx context.Context, jobID string, w io.Writer) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, token, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID)+"/artifact", nil, "", w)
}

// WaitForJob polls until the job reaches a terminal status or ctx ends
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*domain.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.JobStatus.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
