package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs every table exporter for a project and assembles the bundle.
// Exporters read independently; there is no transaction spanning them, so the
// bundle is not a consistent snapshot if the project changes mid-export.
type Orchestrator struct {
	db          Querier
	exporters   []Exporter
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency caps the number of exporters running at once. 0 means no cap.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithExporters replaces the default table exporters
func WithExporters(exporters []Exporter) Option {
	return func(o *Orchestrator) {
		o.exporters = exporters
	}
}

// NewOrchestrator creates an orchestrator over the default table exporters
func NewOrchestrator(db Querier, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:        db,
		exporters: Tables(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Export runs all exporters for projectID. A failing exporter does not stop
// the others; its error is recorded in the bundle.
func (o *Orchestrator) Export(ctx context.Context, projectID string) *Bundle {
	start := o.now()
	results := make([]Result, len(o.exporters))

	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}

	for i, exp := range o.exporters {
		g.Go(func() error {
			results[i] = o.run(ctx, exp, projectID)
			return nil
		})
	}
	_ = g.Wait()

	bundle := &Bundle{
		ProjectID:  projectID,
		ExportedAt: start,
		Results:    results,
	}

	o.logger.Info("Project export finished",
		slog.String("project_id", projectID),
		slog.Int("tables", len(results)),
		slog.Int("failures", len(bundle.Failures())),
		slog.Duration("duration", o.now().Sub(start)),
	)

	return bundle
}

func (o *Orchestrator) run(ctx context.Context, exp Exporter, projectID string) (res Result) {
	res.Table = exp.Table

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("export %s panicked: %v", exp.Table, r)
		}
	}()

	table, err := exp.Export(ctx, o.db, projectID)
	if err != nil {
		o.logger.Error("Table export failed",
			slog.String("project_id", projectID),
			slog.String("table", exp.Table),
			slog.Any("error", err),
		)
		res.Err = fmt.Errorf("export %s: %w", exp.Table, err)
		return res
	}

	o.logger.Debug("Table exported",
		slog.String("project_id", projectID),
		slog.String("table", exp.Table),
		slog.Int("rows", table.Rows),
	)

	res.Data = table
	return res
}
