package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/export"
	"github.com/recogito/studio-jobs/internal/importer"
	"github.com/recogito/studio-jobs/shared/objectstore"
)

// Executor runs the work behind one job type
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, params map[string]string) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *domain.Job, params map[string]string) error

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.Job, params map[string]string) error {
	return f(ctx, job, params)
}

// Executors builds the static registry used by the worker service
func Executors(orch *export.Orchestrator, imp *importer.Importer, store objectstore.Store, logger *slog.Logger) map[domain.JobType]Executor {
	return map[domain.JobType]Executor{
		domain.JobTypeExport: &ExportExecutor{orchestrator: orch, store: store, logger: logger},
		domain.JobTypeImport: &ImportExecutor{importer: imp, store: store, logger: logger},
	}
}

// ExportExecutor writes the project bundle to the job's bucket.
// The archive is stored even when some tables failed; the job still fails.
type ExportExecutor struct {
	orchestrator *export.Orchestrator
	store        objectstore.Store
	logger       *slog.Logger
}

func (e *ExportExecutor) Execute(ctx context.Context, job *domain.Job, params map[string]string) error {
	projectID := params[domain.ParamProjectID]
	if projectID == "" {
		return fmt.Errorf("%w: %s", domain.ErrMissingParam, domain.ParamProjectID)
	}

	bundle := e.orchestrator.Export(ctx, projectID)

	var buf bytes.Buffer
	if err := bundle.WriteArchive(&buf); err != nil {
		return fmt.Errorf("failed to build archive: %w", err)
	}

	size := int64(buf.Len())
	if err := e.store.Put(ctx, job.BucketID, job.ID, &buf, size); err != nil {
		return fmt.Errorf("failed to store archive: %w", err)
	}

	e.logger.Info("Export archive stored",
		slog.String("job_id", job.ID),
		slog.String("project_id", projectID),
		slog.Int64("bytes", size),
		slog.Int("failed_tables", len(bundle.Failures())),
	)

	if err := bundle.Err(); err != nil {
		return fmt.Errorf("export incomplete: %w", err)
	}
	return nil
}

// ImportExecutor loads the archive previously uploaded to the job's bucket
type ImportExecutor struct {
	importer *importer.Importer
	store    objectstore.Store
	logger   *slog.Logger
}

func (e *ImportExecutor) Execute(ctx context.Context, job *domain.Job, _ map[string]string) error {
	rc, err := e.store.Get(ctx, job.BucketID, job.ID)
	if err != nil {
		return fmt.Errorf("failed to open uploaded archive: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read uploaded archive: %w", err)
	}

	summary, err := e.importer.Import(ctx, data)
	if err != nil {
		return err
	}

	var rows int64
	for _, n := range summary {
		rows += n
	}
	e.logger.Info("Import finished",
		slog.String("job_id", job.ID),
		slog.Int("tables", len(summary)),
		slog.Int64("rows", rows),
	)
	return nil
}
