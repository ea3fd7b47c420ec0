package export

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// idBatchSize bounds the number of bind parameters in one IN clause
const idBatchSize = 500

// Querier is the read side of *sqlx.DB and *sqlx.Tx
type Querier interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// Table is one exported table
type Table struct {
	Name string
	CSV  string
	Rows int
}

// ExportFunc dumps the rows of one table that belong to a project
type ExportFunc func(ctx context.Context, q Querier, projectID string) (Table, error)

// Exporter binds a table name to its export function
type Exporter struct {
	Table  string
	Export ExportFunc
}

// Tables returns the exporters for every table in a project bundle, parents
// before children. Imports insert in this order, so a table must come after
// every table its foreign keys reference.
func Tables() []Exporter {
	return []Exporter{
		{Table: "profiles", Export: exportProfiles},
		{Table: "projects", Export: exportProjects},
		{Table: "contexts", Export: exportContexts},
		{Table: "context_documents", Export: exportContextDocuments},
		{Table: "context_users", Export: exportContextUsers},
		{Table: "layers", Export: exportLayers},
		{Table: "layer_contexts", Export: exportLayerContexts},
		{Table: "layer_groups", Export: exportLayerGroups},
		{Table: "project_groups", Export: exportProjectGroups},
		{Table: "group_users", Export: exportGroupUsers},
		{Table: "tag_definitions", Export: exportTagDefinitions},
		{Table: "tags", Export: exportTags},
		{Table: "annotations", Export: exportAnnotations},
		{Table: "bodies", Export: exportBodies},
		{Table: "targets", Export: exportTargets},
	}
}

func exportProjects(ctx context.Context, q Querier, projectID string) (Table, error) {
	return dumpWhere(ctx, q, "projects", "id = ?", projectID)
}

func exportContexts(ctx context.Context, q Querier, projectID string) (Table, error) {
	return dumpWhere(ctx, q, "contexts", "project_id = ?", projectID)
}

func exportContextDocuments(ctx context.Context, q Querier, projectID string) (Table, error) {
	contextIDs, err := contextIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "context_documents", "context_id", contextIDs)
}

func exportContextUsers(ctx context.Context, q Querier, projectID string) (Table, error) {
	contextIDs, err := contextIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "context_users", "context_id", contextIDs)
}

func exportLayers(ctx context.Context, q Querier, projectID string) (Table, error) {
	return dumpWhere(ctx, q, "layers", "project_id = ?", projectID)
}

func exportLayerContexts(ctx context.Context, q Querier, projectID string) (Table, error) {
	layerIDs, err := layerIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "layer_contexts", "layer_id", layerIDs)
}

func exportLayerGroups(ctx context.Context, q Querier, projectID string) (Table, error) {
	layerIDs, err := layerIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "layer_groups", "layer_id", layerIDs)
}

func exportProjectGroups(ctx context.Context, q Querier, projectID string) (Table, error) {
	return dumpWhere(ctx, q, "project_groups", "project_id = ?", projectID)
}

func exportGroupUsers(ctx context.Context, q Querier, projectID string) (Table, error) {
	groupIDs, err := projectGroupIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "group_users", "type_id", groupIDs, "group_type = 'project'")
}

func exportTagDefinitions(ctx context.Context, q Querier, projectID string) (Table, error) {
	return dumpWhere(ctx, q, "tag_definitions", "target_type = 'project' AND target_id = ?", projectID)
}

func exportTags(ctx context.Context, q Querier, projectID string) (Table, error) {
	defIDs, err := tagDefinitionIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "tags", "tag_definition_id", defIDs)
}

func exportAnnotations(ctx context.Context, q Querier, projectID string) (Table, error) {
	layerIDs, err := layerIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "annotations", "layer_id", layerIDs)
}

func exportBodies(ctx context.Context, q Querier, projectID string) (Table, error) {
	annotationIDs, err := annotationIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "bodies", "annotation_id", annotationIDs)
}

func exportTargets(ctx context.Context, q Querier, projectID string) (Table, error) {
	annotationIDs, err := annotationIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "targets", "annotation_id", annotationIDs)
}

func exportProfiles(ctx context.Context, q Querier, projectID string) (Table, error) {
	userIDs, err := userIDs(ctx, q, projectID)
	if err != nil {
		return Table{}, err
	}
	return dumpIn(ctx, q, "profiles", "id", userIDs)
}

func contextIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return selectIDs(ctx, q, "SELECT id FROM contexts WHERE project_id = ?", projectID)
}

func layerIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return selectIDs(ctx, q, "SELECT id FROM layers WHERE project_id = ?", projectID)
}

func projectGroupIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return selectIDs(ctx, q, "SELECT id FROM project_groups WHERE project_id = ?", projectID)
}

func tagDefinitionIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return selectIDs(ctx, q, "SELECT id FROM tag_definitions WHERE target_type = 'project' AND target_id = ?", projectID)
}

func annotationIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	layerIDs, err := layerIDs(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	return selectIDsIn(ctx, q, "SELECT id FROM annotations WHERE layer_id IN (?)", layerIDs)
}

func userIDs(ctx context.Context, q Querier, projectID string) ([]string, error) {
	groupIDs, err := projectGroupIDs(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	return selectIDsIn(ctx, q, "SELECT DISTINCT user_id FROM group_users WHERE group_type = 'project' AND type_id IN (?)", groupIDs)
}

func selectIDs(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to resolve ids: %w", err)
	}
	return ids, nil
}

// selectIDsIn runs query once per batch of ids. query must hold a single "IN (?)".
// The result holds each id once, even when batches return the same id.
func selectIDsIn(ctx context.Context, q Querier, query string, ids []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, batch := range batches(ids) {
		expanded, args, err := sqlx.In(query, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to expand id list: %w", err)
		}
		found, err := selectIDs(ctx, q, expanded, args...)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// dumpWhere exports every column of the rows matching where
func dumpWhere(ctx context.Context, q Querier, table, where string, args ...any) (Table, error) {
	tw := newTableWriter()
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY 1", table, where)
	if err := dumpQuery(ctx, q, tw, query, args...); err != nil {
		return Table{}, err
	}
	return tw.table(table)
}

// dumpIn exports every column of the rows whose column is in ids.
// An empty id set yields an empty table without querying.
func dumpIn(ctx context.Context, q Querier, table, column string, ids []string, extra ...string) (Table, error) {
	if len(ids) == 0 {
		return Table{Name: table}, nil
	}

	where := column + " IN (?)"
	for _, cond := range extra {
		where += " AND " + cond
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY 1", table, where)

	tw := newTableWriter()
	for _, batch := range batches(ids) {
		expanded, args, err := sqlx.In(query, batch)
		if err != nil {
			return Table{}, fmt.Errorf("failed to expand id list: %w", err)
		}
		if err := dumpQuery(ctx, q, tw, expanded, args...); err != nil {
			return Table{}, err
		}
	}
	return tw.table(table)
}

func dumpQuery(ctx context.Context, q Querier, tw *tableWriter, query string, args ...any) error {
	rows, err := q.QueryxContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	return tw.writeRows(rows)
}

// batches splits ids into sorted chunks of at most idBatchSize
func batches(ids []string) [][]string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var out [][]string
	for len(sorted) > 0 {
		n := min(idBatchSize, len(sorted))
		out = append(out, sorted[:n])
		sorted = sorted[n:]
	}
	return out
}
