package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danstis/ado-asana-sync/internal/appdata"
)

// projectsFile is the on-disk shape of the projects YAML file: a top-level
// list of mappings.
type projectsFile struct {
	Projects []appdata.ProjectMapping `yaml:"projects"`
}

// LoadProjects reads the project mapping list from a YAML file. Both a bare
// top-level list and a "projects:" keyed document are accepted.
func LoadProjects(path string) ([]appdata.ProjectMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects file: %w", err)
	}

	var bare []appdata.ProjectMapping
	if err := yaml.Unmarshal(raw, &bare); err == nil && len(bare) > 0 {
		return validateProjects(bare)
	}

	var keyed projectsFile
	if err := yaml.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("failed to parse projects file: %w", err)
	}
	return validateProjects(keyed.Projects)
}

func validateProjects(projects []appdata.ProjectMapping) ([]appdata.ProjectMapping, error) {
	for i, p := range projects {
		if p.ADOProjectName == "" || p.ADOTeamName == "" || p.AsanaProjectName == "" {
			return nil, fmt.Errorf("projects entry %d is incomplete: all of adoProjectName, adoTeamName and asanaProjectName are required", i)
		}
	}
	return projects, nil
}
