package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/syncer"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Import a legacy flat-file JSON data store",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := appdata.Open(settings.DatabasePath)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.WithError(err).Warn("failed to close record store")
				}
			}()

			if !store.MigrateFromLegacyStore(settings.LegacyDBPath) {
				return fmt.Errorf("migration from %s failed, see log for details", settings.LegacyDBPath)
			}
			log.Info("legacy migration complete")
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove corrupted pull request mapping records",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := appdata.Open(settings.DatabasePath)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.WithError(err).Warn("failed to close record store")
				}
			}()

			app := syncer.NewApp(store)
			removed, err := syncer.CleanupAllCorruptedRecords(app)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d corrupted PR records\n", removed)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record store contents and schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := appdata.Open(settings.DatabasePath)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.WithError(err).Warn("failed to close record store")
				}
			}()

			schemaVersion, err := store.CurrentVersion()
			if err != nil {
				return err
			}
			projectCount, err := store.ProjectCount()
			if err != nil {
				return err
			}

			fmt.Printf("database:       %s\n", store.Path())
			fmt.Printf("schema version: %d\n", schemaVersion)
			fmt.Printf("projects:       %d\n", projectCount)
			for _, table := range []string{appdata.TableMatches, appdata.TablePRMatches, appdata.TableConfig} {
				count, err := store.Table(table).Count()
				if err != nil {
					return err
				}
				fmt.Printf("%-15s %d\n", table+":", count)
			}
			return nil
		},
	}
}
