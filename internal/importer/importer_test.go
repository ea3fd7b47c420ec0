package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recogito/studio-jobs/internal/domain"
	"github.com/recogito/studio-jobs/internal/export"
	"github.com/recogito/studio-jobs/internal/testutil"
)

var discard = slog.New(slog.DiscardHandler)

func exportArchive(t *testing.T) (string, []byte) {
	t.Helper()

	src := testutil.NewDB(t)
	s := testutil.SeedScenario(t, src)
	testutil.AddProjectTags(t, src, s.ProjectID)

	bundle := export.NewOrchestrator(src, discard).Export(context.Background(), s.ProjectID)
	require.NoError(t, bundle.Err())

	var buf bytes.Buffer
	require.NoError(t, bundle.WriteArchive(&buf))
	return s.ProjectID, buf.Bytes()
}

func TestImporter_Import(t *testing.T) {
	projectID, archive := exportArchive(t)

	dst := testutil.NewDB(t)
	imp := New(dst, discard)

	summary, err := imp.Import(context.Background(), archive)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary["projects"])
	assert.Equal(t, int64(2), summary["contexts"])
	assert.Equal(t, int64(3), summary["layers"])
	assert.Equal(t, int64(10), summary["annotations"])
	assert.Equal(t, int64(2), summary["group_users"])
	assert.Equal(t, int64(2), summary["tags"])

	// Re-exporting the imported project reproduces the same tables.
	again := export.NewOrchestrator(dst, discard).Export(context.Background(), projectID)
	require.NoError(t, again.Err())

	original, err := export.ReadArchive(archive)
	require.NoError(t, err)
	for name, data := range original.Tables {
		_, want, err := export.ParseCSV(data)
		require.NoError(t, err)
		_, got, err := export.ParseCSV(again.Tables()[name])
		require.NoError(t, err)
		assert.Len(t, got, len(want), name)
	}

	t.Run("second import skips existing rows", func(t *testing.T) {
		summary, err := imp.Import(context.Background(), archive)
		require.NoError(t, err)
		for table, n := range summary {
			assert.Zero(t, n, table)
		}
	})
}

func TestImporter_EmptyStringsStayDistinctFromNull(t *testing.T) {
	src := testutil.NewDB(t)
	s := testutil.SeedScenario(t, src)
	testutil.Exec(t, src, `INSERT INTO tag_definitions (id, name, target_type, target_id, scope) VALUES
		('td-empty', '', 'project', ?, NULL),
		('td-marker', '\N', 'project', ?, '')`, s.ProjectID, s.ProjectID)

	bundle := export.NewOrchestrator(src, discard).Export(context.Background(), s.ProjectID)
	require.NoError(t, bundle.Err())
	var buf bytes.Buffer
	require.NoError(t, bundle.WriteArchive(&buf))

	dst := testutil.NewDB(t)
	summary, err := New(dst, discard).Import(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary["tag_definitions"])

	type tagDefinition struct {
		ID    string         `db:"id"`
		Name  string         `db:"name"`
		Scope sql.NullString `db:"scope"`
	}
	var defs []tagDefinition
	require.NoError(t, dst.Select(&defs, `SELECT id, name, scope FROM tag_definitions ORDER BY id`))
	require.Len(t, defs, 2)

	assert.Equal(t, "td-empty", defs[0].ID)
	assert.Equal(t, "", defs[0].Name)
	assert.False(t, defs[0].Scope.Valid, "NULL stays NULL")

	assert.Equal(t, "td-marker", defs[1].ID)
	assert.Equal(t, `\N`, defs[1].Name, "text spelling the marker is not NULL")
	assert.Equal(t, sql.NullString{String: "", Valid: true}, defs[1].Scope)

	var nullDescriptions int
	require.NoError(t, dst.Get(&nullDescriptions, `SELECT COUNT(*) FROM contexts WHERE description IS NULL`))
	assert.Equal(t, 2, nullDescriptions)
}

func TestImporter_ForeignKeysEnforced(t *testing.T) {
	projectID, archive := exportArchive(t)

	dst := testutil.NewDBWithForeignKeys(t)
	var enabled int
	require.NoError(t, dst.Get(&enabled, `PRAGMA foreign_keys`))
	require.Equal(t, 1, enabled)
	_, err := dst.Exec(`INSERT INTO group_users (id, group_type, type_id, user_id) VALUES ('gu-orphan', 'project', 'pg-1', 'u-missing')`)
	require.Error(t, err, "orphan memberships are rejected")

	summary, err := New(dst, discard).Import(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary["profiles"])
	assert.Equal(t, int64(2), summary["group_users"])
	assert.Equal(t, int64(1), summary["context_users"])

	var members int
	require.NoError(t, dst.Get(&members, `SELECT COUNT(*) FROM group_users gu JOIN profiles p ON p.id = gu.user_id`))
	assert.Equal(t, 2, members)

	var projects int
	require.NoError(t, dst.Get(&projects, `SELECT COUNT(*) FROM projects WHERE id = ?`, projectID))
	assert.Equal(t, 1, projects)
}

func TestImporter_InvalidArchive(t *testing.T) {
	dst := testutil.NewDB(t)
	imp := New(dst, discard)

	_, err := imp.Import(context.Background(), []byte("plain text"))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestImporter_RejectsBadColumns(t *testing.T) {
	bundle := &export.Bundle{
		ProjectID: "p-1",
		Results: []export.Result{
			{Table: "projects", Data: export.Table{Name: "projects", CSV: "id,\"name); DROP TABLE jobs;--\"\np-1,x\n", Rows: 1}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, bundle.WriteArchive(&buf))

	dst := testutil.NewDB(t)
	_, err := New(dst, discard).Import(context.Background(), buf.Bytes())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	var count int
	require.NoError(t, dst.Get(&count, `SELECT COUNT(*) FROM projects`))
	assert.Zero(t, count)
}

func TestImporter_RejectsUnknownTables(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.yaml")
	require.NoError(t, err)
	_, err = w.Write([]byte("version: 2\nproject_id: p-1\nnull_marker: '\\N'\ntables:\n  - name: jobs\n    file: jobs.csv\n    rows: 0\n"))
	require.NoError(t, err)
	w, err = zw.Create("jobs.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("id\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	dst := testutil.NewDB(t)
	_, err = New(dst, discard).Import(context.Background(), buf.Bytes())
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestImporter_RollsBackOnFailure(t *testing.T) {
	_, archive := exportArchive(t)

	dst := testutil.NewDB(t)
	testutil.Exec(t, dst, `DROP TABLE targets`)

	_, err := New(dst, discard).Import(context.Background(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import targets")

	var count int
	require.NoError(t, dst.Get(&count, `SELECT COUNT(*) FROM annotations`))
	assert.Zero(t, count, "earlier tables are rolled back")
}
