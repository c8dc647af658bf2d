package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
	"github.com/danstis/ado-asana-sync/internal/config"
	"github.com/danstis/ado-asana-sync/internal/dashboard"
	"github.com/danstis/ado-asana-sync/internal/syncer"
	"github.com/danstis/ado-asana-sync/internal/version"
)

// buildApp opens the store and wires an App with live ADO and Asana
// clients. The caller owns the store and must close it.
func buildApp(settings *config.Settings) (*syncer.App, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	store, err := appdata.Open(settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	adoClient := ado.NewClient(settings.ADOURL, settings.ADOPAT)

	app := syncer.NewApp(store)
	app.Core = adoClient
	app.Work = adoClient
	app.WorkItems = adoClient
	app.Git = adoClient
	app.Asana = asana.NewClient(settings.AsanaToken)
	app.ADOBaseURL = settings.ADOURL
	app.AsanaWorkspaceName = settings.AsanaWorkspaceName
	app.AsanaTagName = settings.AsanaTagName
	app.SyncThresholdDays = settings.SyncThresholdDays
	return app, nil
}

func loadProjects(settings *config.Settings) ([]appdata.ProjectMapping, error) {
	projects, err := config.LoadProjects(settings.ProjectsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects file: %w", err)
	}
	return projects, nil
}

func newSyncCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the sync loop (or a single pass with --once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			app, err := buildApp(settings)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Store.Close(); err != nil {
					log.WithError(err).Warn("failed to close record store")
				}
			}()

			if settings.DashboardAddr != "" {
				srv := dashboard.NewServer(settings.DashboardAddr)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("failed to start dashboard: %w", err)
				}
				defer func() {
					if err := srv.Stop(); err != nil {
						log.WithError(err).Warn("failed to stop dashboard")
					}
				}()
				app.Events = srv
			}

			projects, err := loadProjects(settings)
			if err != nil {
				return err
			}
			if err := app.Bootstrap(settings.LegacyDBPath, projects); err != nil {
				return err
			}

			log.WithField("version", version.Version).Info("starting sync")
			if once {
				return app.Sync()
			}
			return runLoop(app, settings)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sync pass and exit")
	return cmd
}

// runLoop repeats sync passes until interrupted, reloading the project
// mapping list when its file changes on disk.
func runLoop(app *syncer.App, settings *config.Settings) error {
	watcher, err := config.NewProjectsWatcher(settings.ProjectsFile)
	if err != nil {
		log.WithError(err).Warn("projects watcher unavailable, file changes require a restart")
	} else if err := watcher.Start(); err != nil {
		log.WithError(err).Warn("failed to start projects watcher")
		watcher = nil
	}
	if watcher != nil {
		defer func() {
			if err := watcher.Stop(); err != nil {
				log.WithError(err).Warn("failed to stop projects watcher")
			}
		}()
	}

	interval := time.Duration(settings.SleepTimeMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		if err := app.Sync(); err != nil {
			log.WithError(err).Error("sync pass failed")
		}

		log.WithField("sleep", interval.String()).Info("sync pass complete, sleeping")
		timer := time.NewTimer(interval)
		select {
		case <-sig:
			timer.Stop()
			log.Info("shutdown signal received")
			return nil
		case <-reloadChan(watcher):
			timer.Stop()
			projects, err := loadProjects(settings)
			if err != nil {
				log.WithError(err).Error("projects reload failed, keeping previous mappings")
				continue
			}
			if err := app.Store.ReplaceProjects(projects); err != nil {
				log.WithError(err).Error("failed to apply reloaded projects")
				continue
			}
			log.WithField("count", len(projects)).Info("reloaded project mappings")
		case <-timer.C:
		}
	}
}

// reloadChan returns the watcher's reload channel, or a nil channel that
// never fires when no watcher is running.
func reloadChan(w *config.ProjectsWatcher) <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.Reload()
}
