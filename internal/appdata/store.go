// Package appdata provides the durable record store for the ADO-Asana sync
// bridge.
//
// The store is an embedded SQLite database (WAL mode) holding four logical
// tables: matches, pr_matches and config are document tables whose rows carry
// a JSON payload plus a surrogate integer id, and projects is a plain
// relational table caching the configured (ADO project, team) -> Asana
// project mappings. A schema_version log tracks one-time structural
// migrations, and a one-shot import path brings data over from the legacy
// flat-file document format.
//
// Document tables expose a predicate-based query API: callers pass a pure
// function over the decoded document and the table scans every row. At the
// expected scale (hundreds of mappings) a full scan is well inside
// interactive latency, and keeping the predicate behind the Table type means
// an index-backed implementation can replace it without touching callers.
package appdata

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	log "github.com/sirupsen/logrus"
)

// Names of the logical tables held by the store.
const (
	TableMatches   = "matches"
	TablePRMatches = "pr_matches"
	TableConfig    = "config"
)

// documentTables lists the tables that use the JSON document layout.
var documentTables = []string{TableMatches, TablePRMatches, TableConfig}

// Store wraps the SQLite database holding all persistent sync state.
// Connections are pooled by database/sql, so each goroutine works on its own
// handle; the store itself must never be shared across processes.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store at the given path.
//
// The database is opened in WAL mode with a busy timeout so concurrent
// readers do not block writers. All tables and the schema version log are
// created if missing, and any pending structural migrations run before Open
// returns. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	// A store written by a pre-versioning release has data tables but no
	// schema_version rows. Record that before initSchema creates anything
	// so version seeding can tell the two cases apart.
	preexisting, err := s.tableExists(TableMatches)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	if err := s.applyMigrations(preexisting); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the write-ahead log back into the main file and releases
// all pooled connections.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.WithError(err).Warn("failed to checkpoint WAL")
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Table returns a handle for one of the document tables. Unknown names
// return nil so a misconfigured caller fails loudly on first use.
func (s *Store) Table(name string) *Table {
	for _, t := range documentTables {
		if t == name {
			return &Table{store: s, name: name}
		}
	}
	log.WithField("table", name).Error("unknown document table requested")
	return nil
}

// initSchema creates all tables if they do not exist. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pr_matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ado_project_name TEXT NOT NULL,
		ado_team_name TEXT NOT NULL,
		asana_project_name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (ado_project_name, ado_team_name)
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		description TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_ado_id
		ON matches (json_extract(data, '$.ado_id'));
	CREATE INDEX IF NOT EXISTS idx_pr_matches_pr_id
		ON pr_matches (json_extract(data, '$.ado_pr_id'));
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) tableExists(name string) (bool, error) {
	var count int
	err := s.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query sqlite_master: %w", err)
	}
	return count > 0, nil
}
