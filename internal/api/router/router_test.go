package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recogito/studio-jobs/internal/api/dto"
	"github.com/recogito/studio-jobs/internal/api/handler"
	"github.com/recogito/studio-jobs/internal/auth"
	"github.com/recogito/studio-jobs/internal/dispatch"
	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/runner"
	"github.com/recogito/studio-jobs/internal/storage"
	"github.com/recogito/studio-jobs/internal/testutil"
	"github.com/recogito/studio-jobs/shared/objectstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type publisher struct {
	err  error
	sent int
}

func (p *publisher) Publish(context.Context, []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent++
	return nil
}

type env struct {
	engine    *gin.Engine
	jobs      *storage.Storage
	objects   *objectstore.Filesystem
	tokens    *auth.TokenManager
	publisher *publisher
}

func newEnv(t *testing.T, opts ...func(*handler.Dependencies)) *env {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	jobs := storage.NewStorage(testutil.NewDB(t), logger)
	objects, err := objectstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	tokens := auth.NewTokenManager("test-secret", "")
	pub := &publisher{}

	deps := &handler.Dependencies{
		Logger:         logger,
		Jobs:           jobs,
		Dispatcher:     dispatch.NewDispatcher(jobs, pub, tokens, logger),
		Objects:        objects,
		TokenVerifier:  tokens,
		MaxUploadBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(deps)
	}
	engine := SetupRouter(deps)

	return &env{engine: engine, jobs: jobs, objects: objects, tokens: tokens, publisher: pub}
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, time.Minute)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *env) createJob(t *testing.T, token string, jobType domain.JobType) domain.Job {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/jobs", token,
		strings.NewReader(`{"name":"Letters export","job_type":"`+string(jobType)+`"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func (e *env) status(t *testing.T, jobID string) domain.JobStatus {
	t.Helper()
	job, err := e.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job.JobStatus
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestJobsAPI_RequiresToken(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJobsAPI_CreateGetList(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")

	job := e.createJob(t, tok, domain.JobTypeExport)
	assert.Equal(t, domain.JobStatusInitializing, job.JobStatus)
	assert.Equal(t, domain.JobsBucket, job.BucketID)
	assert.Equal(t, "u-1", job.CreatedBy)

	w := e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, e.token(t, "u-2"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/00000000-0000-0000-0000-000000000000", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/jobs", tok, strings.NewReader(`{"name":"x","job_type":"REINDEX"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsAPI_ListPaginates(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")

	for range 3 {
		e.createJob(t, tok, domain.JobTypeExport)
	}
	e.createJob(t, e.token(t, "u-2"), domain.JobTypeExport)

	var ids []string
	cursor := ""
	for {
		path := "/api/v1/jobs?page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := e.do(t, http.MethodGet, path, tok, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		for _, j := range page.Data {
			assert.Equal(t, "u-1", j.CreatedBy)
			ids = append(ids, j.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Len(t, ids, 3)

	w := e.do(t, http.MethodGet, "/api/v1/jobs?status=done", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobsAPI_UpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")
	job := e.createJob(t, tok, domain.JobTypeExport)

	w := e.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, tok, strings.NewReader(`{"name":"Renamed"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var updated domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Name)

	w = e.do(t, http.MethodPatch, "/api/v1/jobs/"+job.ID, tok, strings.NewReader(`{"job_status":"complete"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, e.token(t, "u-2"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.DeleteJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Deleted, 1)
	assert.Equal(t, job.ID, resp.Deleted[0].ID)

	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Deleted)
}

func TestJobsAPI_DeleteProcessingJob(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")
	job := e.createJob(t, tok, domain.JobTypeExport)

	w := e.do(t, http.MethodPost, "/api/run-job", tok, strings.NewReader(`{"jobId":"`+job.ID+`","projectId":"p-1"}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "processing")
	assert.Equal(t, domain.JobStatusProcessing, e.status(t, job.ID))

	require.NoError(t, e.jobs.TransitionStatus(context.Background(), job.ID, domain.JobStatusProcessing, domain.JobStatusComplete))
	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.DeleteJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Deleted, 1)
}

func TestRunJob(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")
	job := e.createJob(t, tok, domain.JobTypeExport)

	run := func(token, body string) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPost, "/api/run-job", token, strings.NewReader(body))
	}

	w := run("", `{"jobId":"`+job.ID+`","projectId":"p-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, domain.JobStatusInitializing, e.status(t, job.ID))

	w = run(e.token(t, "u-2"), `{"jobId":"`+job.ID+`","projectId":"p-1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = run(tok, `{"jobId":"`+job.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = run(tok, `{"jobId":"`+job.ID+`","projectId":7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = run(tok, `{"jobId":"00000000-0000-0000-0000-000000000000","projectId":"p-1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, domain.JobStatusInitializing, e.status(t, job.ID))
	assert.Zero(t, e.publisher.sent)

	w = run(tok, `{"jobId":"`+job.ID+`","projectId":"p-1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, domain.JobStatusProcessing, e.status(t, job.ID))
	assert.Equal(t, 1, e.publisher.sent)

	w = run(tok, `{"jobId":"`+job.ID+`","projectId":"p-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRunJob_PublishFailure(t *testing.T) {
	e := newEnv(t)
	e.publisher.err = errors.New("broker unreachable")
	tok := e.token(t, "u-1")
	job := e.createJob(t, tok, domain.JobTypeExport)

	w := e.do(t, http.MethodPost, "/api/run-job", tok, strings.NewReader(`{"jobId":"`+job.ID+`","projectId":"p-1"}`))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, domain.JobStatusError, e.status(t, job.ID))
}

func TestArtifacts(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, "u-1")
	imp := e.createJob(t, tok, domain.JobTypeImport)
	exp := e.createJob(t, tok, domain.JobTypeExport)

	w := e.do(t, http.MethodPut, "/api/v1/jobs/"+exp.ID+"/artifact", tok, strings.NewReader("zip"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/"+imp.ID+"/artifact", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPut, "/api/v1/jobs/"+imp.ID+"/artifact", tok, strings.NewReader("zip bytes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var up dto.ArtifactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))
	assert.Equal(t, int64(len("zip bytes")), up.Bytes)

	w = e.do(t, http.MethodGet, "/api/v1/jobs/"+imp.ID+"/artifact", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zip bytes", w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	w = e.do(t, http.MethodPut, "/api/v1/jobs/"+imp.ID+"/artifact", tok, bytes.NewReader(make([]byte, 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Deleting the job removes its artifact.
	w = e.do(t, http.MethodDelete, "/api/v1/jobs/"+imp.ID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := e.objects.Get(context.Background(), domain.JobsBucket, imp.ID)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

// interleavedStore runs afterPut once the object is written, standing in for
// a request that lands while an upload is still streaming.
type interleavedStore struct {
	objectstore.Store
	afterPut func()
}

func (s *interleavedStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	if err := s.Store.Put(ctx, bucket, key, r, size); err != nil {
		return err
	}
	s.afterPut()
	return nil
}

func TestArtifacts_JobChangesDuringUpload(t *testing.T) {
	var afterPut func()
	e := newEnv(t, func(deps *handler.Dependencies) {
		deps.Objects = &interleavedStore{Store: deps.Objects, afterPut: func() { afterPut() }}
	})
	tok := e.token(t, "u-1")
	ctx := context.Background()

	t.Run("run started", func(t *testing.T) {
		job := e.createJob(t, tok, domain.JobTypeImport)
		afterPut = func() {
			require.NoError(t, e.jobs.TransitionStatus(ctx, job.ID, domain.JobStatusInitializing, domain.JobStatusProcessing))
		}

		w := e.do(t, http.MethodPut, "/api/v1/jobs/"+job.ID+"/artifact", tok, strings.NewReader("zip bytes"))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "during upload")
	})

	t.Run("job deleted", func(t *testing.T) {
		job := e.createJob(t, tok, domain.JobTypeImport)
		afterPut = func() {
			_, err := e.jobs.DeleteJob(ctx, job.ID)
			require.NoError(t, err)
		}

		w := e.do(t, http.MethodPut, "/api/v1/jobs/"+job.ID+"/artifact", tok, strings.NewReader("zip bytes"))
		assert.Equal(t, http.StatusNotFound, w.Code)

		_, err := e.objects.Get(ctx, domain.JobsBucket, job.ID)
		assert.ErrorIs(t, err, objectstore.ErrNotFound, "orphan upload is removed")
	})

	t.Run("unchanged", func(t *testing.T) {
		job := e.createJob(t, tok, domain.JobTypeImport)
		afterPut = func() {}

		w := e.do(t, http.MethodPut, "/api/v1/jobs/"+job.ID+"/artifact", tok, strings.NewReader("zip bytes"))
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})
}

func TestRunner_AgainstAPI(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	t.Cleanup(srv.Close)

	tok := e.token(t, "u-1")
	client := runner.New(runner.Config{
		BaseURL: srv.URL,
		Tokens:  runner.StaticToken(tok),
		Logger:  slog.New(slog.DiscardHandler),
	})
	ctx := context.Background()

	t.Run("import upload rejected means no trigger", func(t *testing.T) {
		job, err := client.CreateJob(ctx, "wrong type", domain.JobTypeExport)
		require.NoError(t, err)

		ok := client.RunImportJob(ctx, job.ID, strings.NewReader("zip"), nil)
		assert.False(t, ok)
		assert.Equal(t, domain.JobStatusInitializing, e.status(t, job.ID))
	})

	t.Run("import dispatched", func(t *testing.T) {
		job, err := client.CreateJob(ctx, "import", domain.JobTypeImport)
		require.NoError(t, err)

		ok := client.RunImportJob(ctx, job.ID, strings.NewReader("zip"), nil)
		assert.True(t, ok)
		assert.Equal(t, domain.JobStatusProcessing, e.status(t, job.ID))
	})

	t.Run("expired session", func(t *testing.T) {
		job, err := client.CreateJob(ctx, "export", domain.JobTypeExport)
		require.NoError(t, err)

		stale := runner.New(runner.Config{BaseURL: srv.URL, Tokens: runner.StaticToken("stale"), Logger: slog.New(slog.DiscardHandler)})
		assert.False(t, stale.RunJob(ctx, job.ID, map[string]string{domain.ParamProjectID: "p-1"}))
		assert.Equal(t, domain.JobStatusInitializing, e.status(t, job.ID))

		assert.True(t, client.RunJob(ctx, job.ID, map[string]string{domain.ParamProjectID: "p-1"}))
	})
}
