package appdata

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// createLegacyStore builds a database shaped like a pre-versioning release:
// data tables present, projects constrained on the project name alone, and
// no schema_version rows.
func createLegacyStore(t *testing.T, path string) {
	t.Helper()
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("failed to open legacy db: %v", err)
	}
	defer conn.Close()

	stmts := []string{
		`CREATE TABLE matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO matches (data) VALUES ('{"ado_id": 1, "title": "legacy row"}')`,
		`CREATE TABLE projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ado_project_name TEXT NOT NULL UNIQUE,
			ado_team_name TEXT NOT NULL,
			asana_project_name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO projects (ado_project_name, ado_team_name, asana_project_name)
			VALUES ('ProjA', 'Team1', 'AsanaA')`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("failed to build legacy db: %v", err)
		}
	}
}

func TestApplyMigrations_LegacyStoreGetsCompositeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	createLegacyStore(t, path)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	version, err := store.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("CurrentVersion() = %d, want %d", version, SchemaVersion)
	}

	// The legacy store is treated as version 1, so the log holds exactly
	// the one migration row, not a fresh-store seed.
	records, err := store.VersionLog()
	if err != nil {
		t.Fatalf("VersionLog() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("VersionLog() returned %d rows, want 1", len(records))
	}
	if records[0].Version != 2 {
		t.Errorf("migration row version = %d, want 2", records[0].Version)
	}
	if records[0].Description == "Initial schema creation" {
		t.Error("legacy store was seeded as a fresh store")
	}
}

func TestApplyMigrations_PreservesExistingRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	createLegacyStore(t, path)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	projects, err := store.Projects()
	if err != nil {
		t.Fatalf("Projects() error = %v", err)
	}
	if len(projects) != 1 || projects[0].ADOProjectName != "ProjA" {
		t.Fatalf("Projects() = %+v, want the migrated ProjA row", projects)
	}

	count, err := store.Table(TableMatches).Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("matches count after migration = %d, want 1", count)
	}
}

func TestApplyMigrations_CompositeKeyAllowsProjectFanout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	createLegacyStore(t, path)

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	// One project syncing to two teams was rejected by the old single
	// column constraint; the rebuilt table must accept it.
	projects := []ProjectMapping{
		{ADOProjectName: "ProjA", ADOTeamName: "Team1", AsanaProjectName: "AsanaA"},
		{ADOProjectName: "ProjA", ADOTeamName: "Team2", AsanaProjectName: "AsanaB"},
	}
	if err := store.ReplaceProjects(projects); err != nil {
		t.Fatalf("ReplaceProjects() error = %v", err)
	}

	count, err := store.ProjectCount()
	if err != nil {
		t.Fatalf("ProjectCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("ProjectCount() = %d, want 2", count)
	}
}

func TestApplyMigrations_LegacyStoreReopenAppendsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	createLegacyStore(t, path)

	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		records, err := store.VersionLog()
		if err != nil {
			t.Fatalf("VersionLog() error = %v", err)
		}
		if len(records) != 1 {
			t.Errorf("after open #%d: version log has %d rows, want 1", i, len(records))
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
}
