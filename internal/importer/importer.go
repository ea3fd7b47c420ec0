// Package importer loads a project bundle archive back into the project tables.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/export"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DB is the part of *sqlx.DB the importer needs
type DB interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Summary counts rows inserted per table. Rows that already existed are skipped.
type Summary map[string]int64

// Importer writes archived bundles into the database
type Importer struct {
	db     DB
	logger *slog.Logger
}

// New creates an Importer
func New(db DB, logger *slog.Logger) *Importer {
	return &Importer{db: db, logger: logger}
}

// Import parses an archive and inserts its tables parents-first in a single transaction
func (i *Importer) Import(ctx context.Context, data []byte) (Summary, error) {
	archive, err := export.ReadArchive(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	known := map[string]bool{}
	for _, exp := range export.Tables() {
		known[exp.Table] = true
	}
	for name := range archive.Tables {
		if !known[name] {
			return nil, fmt.Errorf("%w: unknown table %q", domain.ErrInvalidPayload, name)
		}
	}

	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	summary := Summary{}
	for _, exp := range export.Tables() {
		data, ok := archive.Tables[exp.Table]
		if !ok {
			continue
		}
		n, err := insertTable(ctx, tx, exp.Table, data)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", exp.Table, err)
		}
		summary[exp.Table] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}

	i.logger.Info("Project bundle imported",
		slog.String("project_id", archive.Manifest.ProjectID),
		slog.Int("tables", len(summary)),
	)

	return summary, nil
}

func insertTable(ctx context.Context, tx *sqlx.Tx, table, data string) (int64, error) {
	header, records, err := export.ParseCSV(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if len(header) == 0 {
		return 0, nil
	}

	for _, col := range header {
		if !identifier.MatchString(col) {
			return 0, fmt.Errorf("%w: invalid column name %q", domain.ErrInvalidPayload, col)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(header)), ", ")
	query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table, strings.Join(header, ", "), placeholders))

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	args := make([]any, len(header))
	for _, record := range records {
		for i, field := range record {
			if v, ok := export.DecodeField(field); ok {
				args[i] = v
			} else {
				args[i] = nil
			}
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += n
	}

	return inserted, nil
}
