package syncer

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/danstis/ado-asana-sync/internal/ado"
	"github.com/danstis/ado-asana-sync/internal/appdata"
	"github.com/danstis/ado-asana-sync/internal/asana"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store, err := appdata.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return NewApp(store)
}

// fakeADO implements every ADO collaborator interface from in-memory state.
type fakeADO struct {
	projects     map[string]*ado.Project
	teams        map[string]*ado.Team
	backlogIDs   []int
	workItems    map[int]*ado.WorkItem
	repositories []ado.Repository
	activePRs    map[string][]ado.PullRequest
	prByID       map[int]*ado.PullRequest
	reviewers    map[int][]ado.Reviewer

	workItemErr error
	prErr       error
}

func newFakeADO() *fakeADO {
	return &fakeADO{
		projects:  map[string]*ado.Project{},
		teams:     map[string]*ado.Team{},
		workItems: map[int]*ado.WorkItem{},
		activePRs: map[string][]ado.PullRequest{},
		prByID:    map[int]*ado.PullRequest{},
		reviewers: map[int][]ado.Reviewer{},
	}
}

func (f *fakeADO) GetProject(name string) (*ado.Project, error) {
	if p, ok := f.projects[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("project %q not found", name)
}

func (f *fakeADO) GetTeam(projectName, teamName string) (*ado.Team, error) {
	if t, ok := f.teams[teamName]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("team %q not found", teamName)
}

func (f *fakeADO) GetBacklogWorkItemIDs(projectID, teamID string) ([]int, error) {
	return f.backlogIDs, nil
}

func (f *fakeADO) GetWorkItem(id int) (*ado.WorkItem, error) {
	if f.workItemErr != nil {
		return nil, f.workItemErr
	}
	if w, ok := f.workItems[id]; ok {
		return w, nil
	}
	return nil, errors.New("work item not found")
}

func (f *fakeADO) GetRepositories(projectID string) ([]ado.Repository, error) {
	return f.repositories, nil
}

func (f *fakeADO) GetActivePullRequests(repositoryID string) ([]ado.PullRequest, error) {
	return f.activePRs[repositoryID], nil
}

func (f *fakeADO) GetPullRequestByID(prID int, repositoryID string) (*ado.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.prByID[prID], nil
}

func (f *fakeADO) GetPullRequestReviewers(repositoryID string, prID int) ([]ado.Reviewer, error) {
	return f.reviewers[prID], nil
}

// fakeAsana implements asana.TaskClient from in-memory state, assigning
// sequential gids to created tasks.
type fakeAsana struct {
	tasks        map[string]*asana.Task
	users        []asana.User
	projectTasks []asana.Task
	taskTags     map[string][]string

	nextGID        int
	getTaskErr     error
	ensureTagCalls int

	created []asana.TaskRequest
	updated map[string]asana.TaskRequest
}

func newFakeAsana() *fakeAsana {
	return &fakeAsana{
		tasks:    map[string]*asana.Task{},
		taskTags: map[string][]string{},
		updated:  map[string]asana.TaskRequest{},
		nextGID:  1000,
	}
}

func (f *fakeAsana) GetTask(gid string) (*asana.Task, error) {
	if f.getTaskErr != nil {
		return nil, f.getTaskErr
	}
	if t, ok := f.tasks[gid]; ok {
		return t, nil
	}
	return nil, errors.New("task not found")
}

func (f *fakeAsana) CreateTask(req asana.TaskRequest) (*asana.Task, error) {
	f.nextGID++
	gid := fmt.Sprintf("gid-%d", f.nextGID)
	task := &asana.Task{
		GID:        gid,
		Name:       req.Name,
		ModifiedAt: "2025-01-01T00:00:00Z",
	}
	if req.Completed != nil {
		task.Completed = *req.Completed
	}
	f.tasks[gid] = task
	f.created = append(f.created, req)
	return task, nil
}

func (f *fakeAsana) UpdateTask(gid string, req asana.TaskRequest) (*asana.Task, error) {
	task, ok := f.tasks[gid]
	if !ok {
		task = &asana.Task{GID: gid}
		f.tasks[gid] = task
	}
	if req.Name != "" {
		task.Name = req.Name
	}
	if req.Completed != nil {
		task.Completed = *req.Completed
	}
	task.ModifiedAt = "2025-01-02T00:00:00Z"
	f.updated[gid] = req
	return task, nil
}

func (f *fakeAsana) GetProjectTasks(projectGID string) ([]asana.Task, error) {
	return f.projectTasks, nil
}

func (f *fakeAsana) GetUsers(workspaceGID string) ([]asana.User, error) {
	return f.users, nil
}

func (f *fakeAsana) GetWorkspaceGID(name string) (string, error) {
	return "ws-1", nil
}

func (f *fakeAsana) GetProjectGID(workspaceGID, name string) (string, error) {
	return "proj-1", nil
}

func (f *fakeAsana) EnsureTag(workspaceGID, name string) (string, error) {
	f.ensureTagCalls++
	return "tag-1", nil
}

func (f *fakeAsana) GetTaskTags(taskGID string) ([]string, error) {
	return f.taskTags[taskGID], nil
}

func (f *fakeAsana) AddTagToTask(taskGID, tagGID string) error {
	f.taskTags[taskGID] = append(f.taskTags[taskGID], tagGID)
	return nil
}
