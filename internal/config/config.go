// Package config loads runtime settings from file and environment via
// viper, and the project mapping list from a YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the full runtime configuration.
type Settings struct {
	ADOURL             string `mapstructure:"ado_url"`
	ADOPAT             string `mapstructure:"ado_pat"`
	AsanaToken         string `mapstructure:"asana_token"`
	AsanaWorkspaceName string `mapstructure:"asana_workspace_name"`
	AsanaTagName       string `mapstructure:"asana_tag_name"`

	DatabasePath string `mapstructure:"database_path"`
	LegacyDBPath string `mapstructure:"legacy_db_path"`
	ProjectsFile string `mapstructure:"projects_file"`
	LogFile      string `mapstructure:"log_file"`
	LogLevel     string `mapstructure:"log_level"`

	SleepTimeMinutes  int `mapstructure:"sleep_time"`
	SyncThresholdDays int `mapstructure:"sync_threshold_days"`

	DashboardAddr string `mapstructure:"dashboard_addr"`
}

// Load reads settings from the given config file (optional), the current
// directory, and the environment. Environment variables use the SYNC_
// prefix, e.g. SYNC_ADO_PAT.
func Load(cfgFile string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("asana_tag_name", "synced")
	v.SetDefault("database_path", "data/appdata.db")
	v.SetDefault("legacy_db_path", "data/appdata.json")
	v.SetDefault("projects_file", "data/projects.yml")
	v.SetDefault("log_level", "info")
	v.SetDefault("sleep_time", 5)
	v.SetDefault("sync_threshold_days", 30)
	v.SetDefault("dashboard_addr", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./data")
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when the environment supplies
		// everything; an unreadable or malformed one is not.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &s, nil
}

// Validate checks that the credentials required for a sync run are present.
func (s *Settings) Validate() error {
	var missing []string
	if s.ADOURL == "" {
		missing = append(missing, "ado_url")
	}
	if s.ADOPAT == "" {
		missing = append(missing, "ado_pat")
	}
	if s.AsanaToken == "" {
		missing = append(missing, "asana_token")
	}
	if s.AsanaWorkspaceName == "" {
		missing = append(missing, "asana_workspace_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
