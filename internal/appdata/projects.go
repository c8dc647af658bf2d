package appdata

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ProjectMapping pairs one (ADO project, team) with its Asana target
// project. The projects table is a cache of external configuration: it is
// fully replaced on every configuration reload.
type ProjectMapping struct {
	ADOProjectName   string `yaml:"adoProjectName" json:"adoProjectName"`
	ADOTeamName      string `yaml:"adoTeamName" json:"adoTeamName"`
	AsanaProjectName string `yaml:"asanaProjectName" json:"asanaProjectName"`
}

// ReplaceProjects deletes all cached project mappings and inserts the given
// set. A duplicate (ado_project_name, ado_team_name) pair violates the
// composite uniqueness constraint and the storage error propagates to the
// caller: that is bad configuration, not a runtime condition to swallow.
func (s *Store) ReplaceProjects(projects []ProjectMapping) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin projects sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM projects`); err != nil {
		return fmt.Errorf("failed to clear projects: %w", err)
	}

	for _, p := range projects {
		_, err := tx.Exec(
			`INSERT INTO projects (ado_project_name, ado_team_name, asana_project_name) VALUES (?, ?, ?)`,
			p.ADOProjectName, p.ADOTeamName, p.AsanaProjectName,
		)
		if err != nil {
			return fmt.Errorf("failed to insert project %s/%s: %w", p.ADOProjectName, p.ADOTeamName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit projects sync: %w", err)
	}

	log.WithField("count", len(projects)).Info("synced projects to database")
	return nil
}

// Projects returns all cached project mappings ordered by project then team.
func (s *Store) Projects() ([]ProjectMapping, error) {
	rows, err := s.conn.Query(
		`SELECT ado_project_name, ado_team_name, asana_project_name
		 FROM projects ORDER BY ado_project_name, ado_team_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectMapping
	for rows.Next() {
		var p ProjectMapping
		if err := rows.Scan(&p.ADOProjectName, &p.ADOTeamName, &p.AsanaProjectName); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectCount returns the number of cached project mappings.
func (s *Store) ProjectCount() (int, error) {
	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}
