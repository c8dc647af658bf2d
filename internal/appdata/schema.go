package appdata

import (
	"database/sql"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SchemaVersion is the version the current code writes. A freshly created
// store is seeded at this version; older stores are migrated up to it.
const SchemaVersion = 2

// VersionRecord is one row of the append-only schema_version log.
type VersionRecord struct {
	Version     int
	AppliedAt   string
	Description string
}

type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// Migrations run in ascending order, once each, on stores created by an
// older version. Version 1 is the original schema and has no entry.
var migrations = []migration{
	{
		version:     2,
		description: "Rebuild projects table with composite (ado_project_name, ado_team_name) uniqueness",
		apply:       migrateProjectsCompositeKey,
	},
}

// applyMigrations brings the schema version log up to date.
//
// A brand-new store is seeded at SchemaVersion with no structural work. A
// store that predates version tracking (data tables exist, log empty) is
// treated as version 1 and every migration runs, appending one log row
// each. Re-opening an up-to-date store appends nothing.
func (s *Store) applyMigrations(preexisting bool) error {
	current, err := s.currentVersion()
	if err != nil {
		return err
	}

	if current == 0 {
		if !preexisting {
			if _, err := s.conn.Exec(
				`INSERT INTO schema_version (version, description) VALUES (?, ?)`,
				SchemaVersion, "Initial schema creation",
			); err != nil {
				return fmt.Errorf("failed to seed schema version: %w", err)
			}
			return nil
		}
		current = 1
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		log.WithFields(log.Fields{
			"version":     m.version,
			"description": m.description,
		}).Info("applying schema migration")

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, description) VALUES (?, ?)`,
			m.version, m.description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// currentVersion returns the highest recorded schema version, or 0 when the
// log is empty.
func (s *Store) currentVersion() (int, error) {
	var v sql.NullInt64
	err := s.conn.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// CurrentVersion returns the store's recorded schema version.
func (s *Store) CurrentVersion() (int, error) {
	return s.currentVersion()
}

// VersionLog returns all schema_version rows in applied order.
func (s *Store) VersionLog() ([]VersionRecord, error) {
	rows, err := s.conn.Query(
		`SELECT version, applied_at, description FROM schema_version ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version log: %w", err)
	}
	defer rows.Close()

	var records []VersionRecord
	for rows.Next() {
		var r VersionRecord
		if err := rows.Scan(&r.Version, &r.AppliedAt, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan schema version row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// migrateProjectsCompositeKey rebuilds the projects table so the uniqueness
// constraint covers (ado_project_name, ado_team_name) instead of the project
// name alone. A project fanning out to several teams was rejected by the old
// constraint. Existing rows are preserved.
func migrateProjectsCompositeKey(tx *sql.Tx) error {
	var ddl string
	err := tx.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type='table' AND name='projects'`,
	).Scan(&ddl)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect projects table: %w", err)
	}

	// Already composite, nothing to rebuild.
	if strings.Contains(strings.ToLower(ddl), "unique (ado_project_name, ado_team_name)") {
		return nil
	}

	steps := []string{
		`CREATE TABLE projects_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ado_project_name TEXT NOT NULL,
			ado_team_name TEXT NOT NULL,
			asana_project_name TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (ado_project_name, ado_team_name)
		)`,
		`INSERT INTO projects_new (id, ado_project_name, ado_team_name, asana_project_name, created_at, updated_at)
			SELECT id, ado_project_name, ado_team_name, asana_project_name, created_at, updated_at FROM projects`,
		`DROP TABLE projects`,
		`ALTER TABLE projects_new RENAME TO projects`,
	}
	for _, stmt := range steps {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to rebuild projects table: %w", err)
		}
	}
	return nil
}
