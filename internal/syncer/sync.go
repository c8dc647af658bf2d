package syncer

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

// closedWorkItemStates are the ADO states that complete the Asana task.
var closedWorkItemStates = map[string]bool{
	"Closed":  true,
	"Done":    true,
	"Removed": true,
}

// Sync runs one full pass over every configured project mapping: work items
// first, then pull requests, then the stale mapping sweep.
func (a *App) Sync() error {
	mappings, err := a.Store.Projects()
	if err != nil {
		return fmt.Errorf("failed to load project mappings: %w", err)
	}
	if len(mappings) == 0 {
		log.Warn("no project mappings configured, nothing to sync")
		return nil
	}

	for _, m := range mappings {
		if err := a.SyncProject(m); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"ado_project": m.ADOProjectName,
				"ado_team":    m.ADOTeamName,
			}).Error("project sync failed")
		}
	}
	return nil
}

// projectContext is the resolved per-mapping state shared by the work item
// and pull request passes.
type projectContext struct {
	mapping      appdata.ProjectMapping
	adoProject   *ado.Project
	adoTeam      *ado.Team
	workspaceGID string
	projectGID   string
	users        []asana.User
	projectTasks []asana.Task
}

func (a *App) resolveProject(m appdata.ProjectMapping) (*projectContext, error) {
	project, err := a.Core.GetProject(m.ADOProjectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ADO project %q: %w", m.ADOProjectName, err)
	}
	team, err := a.Core.GetTeam(m.ADOProjectName, m.ADOTeamName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ADO team %q: %w", m.ADOTeamName, err)
	}

	workspaceGID, err := a.Asana.GetWorkspaceGID(a.AsanaWorkspaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asana workspace: %w", err)
	}
	projectGID, err := a.Asana.GetProjectGID(workspaceGID, m.AsanaProjectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asana project %q: %w", m.AsanaProjectName, err)
	}
	users, err := a.Asana.GetUsers(workspaceGID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asana users: %w", err)
	}
	tasks, err := a.Asana.GetProjectTasks(projectGID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asana project tasks: %w", err)
	}

	if a.AsanaTagGID == "" && a.AsanaTagName != "" {
		a.resolveSyncTag(workspaceGID)
	}

	return &projectContext{
		mapping:      m,
		adoProject:   project,
		adoTeam:      team,
		workspaceGID: workspaceGID,
		projectGID:   projectGID,
		users:        users,
		projectTasks: tasks,
	}, nil
}

// SyncProject reconciles one project mapping: every backlog work item, the
// pull requests of every repository in the project, then the stale sweep.
func (a *App) SyncProject(m appdata.ProjectMapping) error {
	log.WithFields(log.Fields{
		"ado_project":   m.ADOProjectName,
		"ado_team":      m.ADOTeamName,
		"asana_project": m.AsanaProjectName,
	}).Info("syncing project")
	a.publish("project_sync_started", map[string]any{"ado_project": m.ADOProjectName, "ado_team": m.ADOTeamName})

	ctx, err := a.resolveProject(m)
	if err != nil {
		return err
	}

	ids, err := a.Work.GetBacklogWorkItemIDs(ctx.adoProject.ID, ctx.adoTeam.ID)
	if err != nil {
		return fmt.Errorf("failed to list backlog work items: %w", err)
	}

	for _, id := range ids {
		if err := a.processWorkItem(ctx, id); err != nil {
			log.WithError(err).WithField("ado_id", id).Error("failed to process work item")
		}
	}

	if err := a.SyncPullRequests(ctx); err != nil {
		log.WithError(err).Error("pull request sync failed")
	}

	a.processOffBacklogItems(ctx, ids)
	a.publish("project_sync_finished", map[string]any{"ado_project": m.ADOProjectName, "items": len(ids)})
	return nil
}

// processWorkItem reconciles one backlog item against its mapping row.
//
// Unmapped items are only picked up when the assignee resolves to an Asana
// user; mapped items keep syncing even after the assignee stops resolving,
// so completed or reassigned items still close out.
func (a *App) processWorkItem(ctx *projectContext, adoID int) error {
	existing := SearchTask(a, adoID, "")

	workItem, err := a.WorkItems.GetWorkItem(adoID)
	if err != nil {
		return fmt.Errorf("failed to fetch work item: %w", err)
	}

	if existing == nil {
		return a.createWorkItemTask(ctx, workItem)
	}

	if existing.IsCurrent(a) {
		log.WithField("ado_id", adoID).Debug("work item unchanged, skipping")
		return nil
	}
	return a.updateWorkItemTask(ctx, workItem, existing)
}

func (a *App) createWorkItemTask(ctx *projectContext, workItem *ado.WorkItem) error {
	displayName, email, ok := workItem.AssignedTo()
	if !ok {
		log.WithField("ado_id", workItem.ID).Debug("work item unassigned, skipping")
		return nil
	}
	user := matchingUser(ctx.users, ReviewerIdentity{DisplayName: displayName, Email: email})
	if user == nil {
		log.WithFields(log.Fields{"ado_id": workItem.ID, "assignee": email}).Debug("assignee has no asana account, skipping")
		return nil
	}

	item := &TaskItem{
		ADOID:       workItem.ID,
		ADORev:      workItem.Rev,
		Title:       workItem.Title(),
		ItemType:    workItem.Type(),
		State:       workItem.State(),
		URL:         workItem.URL,
		AssignedTo:  user.GID,
		DueDate:     workItem.DueDate(),
		CreatedDate: nowUTC(),
		UpdatedDate: nowUTC(),
	}

	// Adopt a task that already carries our exact title before creating a
	// duplicate.
	var task *asana.Task
	var err error
	if adopted := findTaskByName(ctx.projectTasks, item.AsanaTitle()); adopted != nil {
		log.WithFields(log.Fields{"ado_id": item.ADOID, "asana_gid": adopted.GID}).Info("adopting existing asana task by name")
		task, err = a.Asana.UpdateTask(adopted.GID, a.taskRequest(item))
	} else {
		req := a.taskRequest(item)
		req.Projects = []string{ctx.projectGID}
		task, err = a.Asana.CreateTask(req)
	}
	if err != nil {
		return fmt.Errorf("failed to create asana task: %w", err)
	}

	item.AsanaGID = task.GID
	item.AsanaUpdated = task.ModifiedAt
	a.tagTask(task.GID)

	a.publish("task_created", map[string]any{"ado_id": item.ADOID, "asana_gid": item.AsanaGID})
	return item.Save(a)
}

func (a *App) updateWorkItemTask(ctx *projectContext, workItem *ado.WorkItem, item *TaskItem) error {
	item.ADORev = workItem.Rev
	item.Title = workItem.Title()
	item.ItemType = workItem.Type()
	item.State = workItem.State()
	item.URL = workItem.URL
	item.DueDate = workItem.DueDate()
	item.UpdatedDate = nowUTC()

	if displayName, email, ok := workItem.AssignedTo(); ok {
		if user := matchingUser(ctx.users, ReviewerIdentity{DisplayName: displayName, Email: email}); user != nil {
			item.AssignedTo = user.GID
		}
	}

	task, err := a.Asana.UpdateTask(item.AsanaGID, a.taskRequest(item))
	if err != nil {
		return fmt.Errorf("failed to update asana task: %w", err)
	}
	item.AsanaUpdated = task.ModifiedAt
	a.tagTask(item.AsanaGID)

	a.publish("task_updated", map[string]any{"ado_id": item.ADOID, "asana_gid": item.AsanaGID})
	return item.Save(a)
}

func (a *App) taskRequest(item *TaskItem) asana.TaskRequest {
	completed := closedWorkItemStates[item.State]
	return asana.TaskRequest{
		Name:      item.AsanaTitle(),
		HTMLNotes: fmt.Sprintf("<body>%s</body>", item.AsanaNotesLink()),
		Assignee:  item.AssignedTo,
		Completed: &completed,
		DueOn:     item.DueDate,
	}
}

// resolveSyncTag fills in AsanaTagGID, preferring the gid cached in the
// config table over an API round trip. A lookup failure only disables
// tagging for the pass; it never stops the sync.
func (a *App) resolveSyncTag(workspaceGID string) {
	if a.Config != nil {
		doc, err := a.Config.GetBy(map[string]any{"key": "tag_gid", "tag_name": a.AsanaTagName})
		if err == nil && doc != nil && doc.Str("value") != "" {
			a.AsanaTagGID = doc.Str("value")
			return
		}
	}

	gid, err := a.Asana.EnsureTag(workspaceGID, a.AsanaTagName)
	if err != nil {
		log.WithError(err).Warn("failed to ensure sync tag, continuing without tagging")
		return
	}
	a.AsanaTagGID = gid

	if a.Config != nil {
		_, err := a.Config.Upsert(
			appdata.Document{"key": "tag_gid", "tag_name": a.AsanaTagName, "value": gid},
			func(doc appdata.Document) bool {
				return doc.Str("key") == "tag_gid" && doc.Str("tag_name") == a.AsanaTagName
			},
		)
		if err != nil {
			log.WithError(err).Warn("failed to cache sync tag gid")
		}
	}
}

// tagTask attaches the sync tag to the task unless it already carries it.
func (a *App) tagTask(taskGID string) {
	if a.AsanaTagGID == "" {
		return
	}
	tags, err := a.Asana.GetTaskTags(taskGID)
	if err != nil {
		log.WithError(err).WithField("asana_gid", taskGID).Warn("failed to read task tags")
		return
	}
	for _, gid := range tags {
		if gid == a.AsanaTagGID {
			return
		}
	}
	if err := a.Asana.AddTagToTask(taskGID, a.AsanaTagGID); err != nil {
		log.WithError(err).WithField("asana_gid", taskGID).Warn("failed to tag task")
	}
}

// processOffBacklogItems walks every mapping whose work item has left the
// backlog. A mapping still within the sync threshold is refreshed one more
// time so an item that closed (and so dropped off the backlog) completes
// its Asana task; a mapping untouched for longer than the threshold is
// removed, as is any row whose ado_id is not an integer. Only the mapping
// row is removed; the Asana task is left alone.
func (a *App) processOffBacklogItems(ctx *projectContext, backlogIDs []int) {
	if a.Matches == nil || a.DBLock == nil {
		return
	}
	current := make(map[int64]bool, len(backlogIDs))
	for _, id := range backlogIDs {
		current[int64(id)] = true
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -a.SyncThresholdDays)

	docs, err := a.Matches.All()
	if err != nil {
		log.WithError(err).Error("off-backlog mapping scan failed")
		return
	}

	var removeIDs []int64
	for _, doc := range docs {
		adoID, ok := doc.Int("ado_id")
		if !ok {
			log.WithField("doc_id", doc.DocID()).Warn("removing mapping with invalid ado_id")
			removeIDs = append(removeIDs, doc.DocID())
			continue
		}
		if current[adoID] {
			continue
		}
		updated, err := time.Parse(time.RFC3339, doc.Str("updated_date"))
		if err == nil && updated.Before(cutoff) {
			removeIDs = append(removeIDs, doc.DocID())
			continue
		}
		a.refreshOffBacklogItem(ctx, int(adoID))
	}

	if len(removeIDs) == 0 {
		return
	}
	a.DBLock.Lock()
	_, err = a.Matches.RemoveIDs(removeIDs...)
	a.DBLock.Unlock()
	if err != nil {
		log.WithError(err).Error("stale mapping sweep failed")
		return
	}
	log.WithField("count", len(removeIDs)).Info("removed stale work item mappings")
	a.publish("stale_mappings_removed", map[string]any{"count": len(removeIDs)})
}

// refreshOffBacklogItem re-fetches one off-backlog work item and pushes its
// final state to the linked Asana task. Fetch failures are skipped; the
// mapping stays and the next pass retries.
func (a *App) refreshOffBacklogItem(ctx *projectContext, adoID int) {
	item, err := FindTaskByADOID(a, adoID)
	if err != nil || item == nil {
		return
	}
	if item.IsCurrent(a) {
		return
	}

	workItem, err := a.WorkItems.GetWorkItem(adoID)
	if err != nil || workItem == nil {
		log.WithField("ado_id", adoID).Debug("off-backlog work item could not be fetched, skipping refresh")
		return
	}
	if err := a.updateWorkItemTask(ctx, workItem, item); err != nil {
		log.WithError(err).WithField("ado_id", adoID).Error("failed to refresh off-backlog work item")
	}
}
