// Package syncer implements the reconciliation engine between Azure DevOps
// work items / pull requests and Asana tasks. It maintains a durable mapping
// between the two systems in the appdata store and decides, per entity and
// per pass, whether to create, update, close or skip the corresponding
// Asana task.
package syncer

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

// DefaultSyncThresholdDays is how long a mapping for a work item that has
// dropped off the backlog is kept before its mapping row is removed.
const DefaultSyncThresholdDays = 30

// App carries everything a sync pass needs: the record store with its table
// handles, the shared db lock serializing read-decide-write sequences, and
// the external collaborators.
//
// DBLock is passed explicitly rather than hidden in a singleton so
// single-threaded tests can supply their own mutex. It guards multi-step
// invariants (search then insert-or-update) that a single store transaction
// cannot cover.
type App struct {
	Store     *appdata.Store
	Matches   *appdata.Table
	PRMatches *appdata.Table
	Config    *appdata.Table
	DBLock    *sync.Mutex

	Core      ado.CoreClient
	Work      ado.WorkClient
	WorkItems ado.WorkItemClient
	Git       ado.GitClient
	Asana     asana.TaskClient

	ADOBaseURL         string
	AsanaWorkspaceName string
	AsanaTagName       string
	AsanaTagGID        string
	SyncThresholdDays  int

	// Events receives progress notifications when a dashboard is attached.
	// Nil when no dashboard is running.
	Events EventSink
}

// EventSink receives sync progress events, e.g. for the status dashboard.
type EventSink interface {
	Publish(event string, fields map[string]any)
}

func (a *App) publish(event string, fields map[string]any) {
	if a.Events != nil {
		a.Events.Publish(event, fields)
	}
}

// NewApp wires an App around an open store. Collaborator clients are set by
// the caller.
func NewApp(store *appdata.Store) *App {
	return &App{
		Store:             store,
		Matches:           store.Table(appdata.TableMatches),
		PRMatches:         store.Table(appdata.TablePRMatches),
		Config:            store.Table(appdata.TableConfig),
		DBLock:            &sync.Mutex{},
		AsanaTagName:      "synced",
		SyncThresholdDays: DefaultSyncThresholdDays,
	}
}

// Bootstrap runs the startup sequence against an already-open store:
// import the legacy flat-file data if present, replace the projects cache
// from configuration, and sweep corrupted PR records left by earlier runs.
func (a *App) Bootstrap(legacyPath string, projects []appdata.ProjectMapping) error {
	if legacyPath != "" {
		if _, err := os.Stat(legacyPath); err == nil {
			log.WithField("path", legacyPath).Info("found legacy data file, starting migration")
			if a.Store.MigrateFromLegacyStore(legacyPath) {
				backup := legacyPath + ".migrated"
				if err := os.Rename(legacyPath, backup); err != nil {
					log.WithError(err).Warn("migration succeeded but legacy file could not be renamed")
				} else {
					log.WithFields(log.Fields{"from": legacyPath, "to": backup}).Info("migration successful, renamed legacy file")
				}
			} else {
				log.Error("migration failed, keeping legacy data file")
			}
		}
	}

	if err := a.Store.ReplaceProjects(projects); err != nil {
		return fmt.Errorf("failed to sync projects: %w", err)
	}

	removed, err := CleanupAllCorruptedRecords(a)
	if err != nil {
		log.WithError(err).Error("failed to clean up corrupted PR data")
	} else if removed > 0 {
		log.WithField("count", removed).Info("startup cleanup removed corrupted PR records")
	}
	return nil
}
