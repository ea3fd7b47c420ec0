// Package testutil provides an on-disk SQLite database with the project
// and job tables, for tests that need a real SQL engine behind sqlx.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE profiles (
	id TEXT PRIMARY KEY,
	nickname TEXT,
	first_name TEXT,
	last_name TEXT,
	avatar_url TEXT
);
CREATE TABLE projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	created_at TIMESTAMP,
	created_by TEXT
);
CREATE TABLE contexts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT,
	description TEXT,
	is_project_default BOOLEAN,
	created_at TIMESTAMP
);
CREATE TABLE context_documents (
	id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL REFERENCES contexts(id),
	document_id TEXT NOT NULL
);
CREATE TABLE context_users (
	id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL REFERENCES contexts(id),
	user_id TEXT NOT NULL REFERENCES profiles(id),
	role_id TEXT
);
CREATE TABLE layers (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	document_id TEXT,
	name TEXT,
	created_at TIMESTAMP
);
CREATE TABLE layer_contexts (
	id TEXT PRIMARY KEY,
	layer_id TEXT NOT NULL REFERENCES layers(id),
	context_id TEXT NOT NULL REFERENCES contexts(id),
	is_active_layer BOOLEAN
);
CREATE TABLE layer_groups (
	id TEXT PRIMARY KEY,
	layer_id TEXT NOT NULL REFERENCES layers(id),
	name TEXT,
	role_id TEXT
);
CREATE TABLE project_groups (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT,
	role_id TEXT
);
CREATE TABLE group_users (
	id TEXT PRIMARY KEY,
	group_type TEXT NOT NULL,
	type_id TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES profiles(id)
);
CREATE TABLE tag_definitions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	scope TEXT
);
CREATE TABLE tags (
	id TEXT PRIMARY KEY,
	tag_definition_id TEXT NOT NULL REFERENCES tag_definitions(id),
	target_id TEXT NOT NULL
);
CREATE TABLE annotations (
	id TEXT PRIMARY KEY,
	layer_id TEXT NOT NULL REFERENCES layers(id),
	is_private BOOLEAN,
	created_by TEXT,
	created_at TIMESTAMP
);
CREATE TABLE bodies (
	id TEXT PRIMARY KEY,
	annotation_id TEXT NOT NULL REFERENCES annotations(id),
	layer_id TEXT,
	purpose TEXT,
	value TEXT
);
CREATE TABLE targets (
	id TEXT PRIMARY KEY,
	annotation_id TEXT NOT NULL REFERENCES annotations(id),
	layer_id TEXT,
	selector_type TEXT,
	value TEXT
);
CREATE TABLE jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	job_type TEXT NOT NULL CHECK (job_type IN ('EXPORT', 'IMPORT')),
	job_status TEXT NOT NULL DEFAULT 'initializing'
		CHECK (job_status IN ('initializing', 'processing', 'complete', 'error')),
	bucket_id TEXT NOT NULL DEFAULT 'jobs',
	created_at TIMESTAMP NOT NULL,
	created_by TEXT NOT NULL
);
`

// NewDB opens a fresh SQLite database in the test's temp dir with the full
// schema. Foreign keys are declared but not enforced.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	return openDB(t, "")
}

// NewDBWithForeignKeys is NewDB with foreign key enforcement on every connection
func NewDBWithForeignKeys(t *testing.T) *sqlx.DB {
	t.Helper()
	return openDB(t, "&_pragma=foreign_keys(1)")
}

func openDB(t *testing.T, pragmas string) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)%s", filepath.Join(t.TempDir(), "studio.db"), pragmas)
	db, err := sqlx.Connect("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db
}

// Exec runs a statement and fails the test on error
func Exec(t *testing.T, db *sqlx.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err, query)
}

// Scenario names the rows seeded by SeedScenario
type Scenario struct {
	ProjectID      string
	OtherProjectID string
	OwnerID        string
	ContextIDs     []string
	LayerIDs       []string
	GroupID        string
	UserIDs        []string
}

// SeedScenario seeds a project with 2 contexts, 3 layers, 10 annotations
// (5 in each of the first two layers) and one project group with 2 users.
// It has no tag definitions. A second project with its own rows is seeded
// alongside so scoping leaks show up in counts.
func SeedScenario(t *testing.T, db *sqlx.DB) Scenario {
	t.Helper()

	s := Scenario{
		ProjectID:      "p-1",
		OtherProjectID: "p-2",
		OwnerID:        "u-owner",
		ContextIDs:     []string{"c-1", "c-2"},
		LayerIDs:       []string{"l-1", "l-2", "l-3"},
		GroupID:        "pg-1",
		UserIDs:        []string{"u-1", "u-2"},
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	Exec(t, db, `INSERT INTO profiles (id, nickname, first_name, last_name) VALUES
		('u-owner', 'owner', 'Olive', 'Owner'),
		('u-1', 'ada', 'Ada', 'Lovelace'),
		('u-2', 'alan', 'Alan', 'Turing'),
		('u-3', 'grace', 'Grace', 'Hopper')`)

	Exec(t, db, `INSERT INTO projects (id, name, description, created_at, created_by) VALUES (?, ?, ?, ?, ?)`,
		s.ProjectID, "Letters", "Correspondence, 1850-1870", now, s.OwnerID)
	Exec(t, db, `INSERT INTO projects (id, name, created_at, created_by) VALUES (?, ?, ?, ?)`,
		s.OtherProjectID, "Maps", now, "u-3")

	for i, id := range s.ContextIDs {
		Exec(t, db, `INSERT INTO contexts (id, project_id, name, is_project_default, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, s.ProjectID, fmt.Sprintf("Assignment %d", i+1), i == 0, now)
		Exec(t, db, `INSERT INTO context_documents (id, context_id, document_id) VALUES (?, ?, ?)`,
			"cd-"+id, id, fmt.Sprintf("d-%d", i+1))
	}
	Exec(t, db, `INSERT INTO context_users (id, context_id, user_id, role_id) VALUES ('cu-1', 'c-1', 'u-1', 'r-member')`)

	for i, id := range s.LayerIDs {
		Exec(t, db, `INSERT INTO layers (id, project_id, document_id, name, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, s.ProjectID, fmt.Sprintf("d-%d", i+1), nil, now)
		Exec(t, db, `INSERT INTO layer_contexts (id, layer_id, context_id, is_active_layer) VALUES (?, ?, ?, ?)`,
			"lc-"+id, id, s.ContextIDs[i%len(s.ContextIDs)], true)
	}
	Exec(t, db, `INSERT INTO layer_groups (id, layer_id, name, role_id) VALUES ('lg-1', 'l-1', 'Layer Admins', 'r-admin')`)

	for i := 0; i < 10; i++ {
		layer := s.LayerIDs[i/5]
		annID := fmt.Sprintf("a-%02d", i)
		Exec(t, db, `INSERT INTO annotations (id, layer_id, is_private, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			annID, layer, false, s.UserIDs[i%2], now)
		Exec(t, db, `INSERT INTO bodies (id, annotation_id, layer_id, purpose, value) VALUES (?, ?, ?, ?, ?)`,
			"b-"+annID, annID, layer, "commenting", fmt.Sprintf("note, \"quoted\" %d", i))
		Exec(t, db, `INSERT INTO targets (id, annotation_id, layer_id, selector_type, value) VALUES (?, ?, ?, ?, ?)`,
			"t-"+annID, annID, layer, "TextQuoteSelector", fmt.Sprintf("line %d", i))
	}

	Exec(t, db, `INSERT INTO project_groups (id, project_id, name, role_id) VALUES (?, ?, 'Project Members', 'r-member')`,
		s.GroupID, s.ProjectID)
	for i, uid := range s.UserIDs {
		Exec(t, db, `INSERT INTO group_users (id, group_type, type_id, user_id) VALUES (?, 'project', ?, ?)`,
			fmt.Sprintf("gu-%d", i+1), s.GroupID, uid)
	}
	// A layer group membership shares the type_id space but is not a project group user.
	Exec(t, db, `INSERT INTO group_users (id, group_type, type_id, user_id) VALUES ('gu-layer', 'layer', 'pg-1', 'u-3')`)

	// Rows belonging to the other project.
	Exec(t, db, `INSERT INTO contexts (id, project_id, name, created_at) VALUES ('c-x', ?, 'Other', ?)`, s.OtherProjectID, now)
	Exec(t, db, `INSERT INTO context_documents (id, context_id, document_id) VALUES ('cd-x', 'c-x', 'd-x')`)
	Exec(t, db, `INSERT INTO layers (id, project_id, document_id, created_at) VALUES ('l-x', ?, 'd-x', ?)`, s.OtherProjectID, now)
	Exec(t, db, `INSERT INTO annotations (id, layer_id, created_by, created_at) VALUES ('a-x', 'l-x', 'u-3', ?)`, now)
	Exec(t, db, `INSERT INTO bodies (id, annotation_id, layer_id, value) VALUES ('b-x', 'a-x', 'l-x', 'other')`)
	Exec(t, db, `INSERT INTO project_groups (id, project_id, name) VALUES ('pg-x', ?, 'Other Members')`, s.OtherProjectID)
	Exec(t, db, `INSERT INTO group_users (id, group_type, type_id, user_id) VALUES ('gu-x', 'project', 'pg-x', 'u-3')`)
	Exec(t, db, `INSERT INTO tag_definitions (id, name, target_type, target_id, scope) VALUES ('td-x', 'place', 'project', ?, 'project')`, s.OtherProjectID)
	Exec(t, db, `INSERT INTO tags (id, tag_definition_id, target_id) VALUES ('tg-x', 'td-x', 'a-x')`)
	// Same id as our project but scoped to an organization: must not be exported.
	Exec(t, db, `INSERT INTO tag_definitions (id, name, target_type, target_id, scope) VALUES ('td-org', 'person', 'organization', ?, 'organization')`, s.ProjectID)
	Exec(t, db, `INSERT INTO tags (id, tag_definition_id, target_id) VALUES ('tg-org', 'td-org', 'a-00')`)

	return s
}

// AddProjectTags adds two tag definitions scoped to the project and one tag on each
func AddProjectTags(t *testing.T, db *sqlx.DB, projectID string) {
	t.Helper()
	Exec(t, db, `INSERT INTO tag_definitions (id, name, target_type, target_id, scope) VALUES
		('td-1', 'person', 'project', ?, 'project'),
		('td-2', 'place', 'project', ?, 'project')`, projectID, projectID)
	Exec(t, db, `INSERT INTO tags (id, tag_definition_id, target_id) VALUES
		('tg-1', 'td-1', 'a-00'),
		('tg-2', 'td-2', 'a-01')`)
}
