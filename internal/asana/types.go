// Package asana provides the Asana collaborator interface and a thin REST
// client. The sync engine depends only on the TaskClient interface.
package asana

// Task is an Asana task as returned by the API. ModifiedAt is the raw
// ISO-8601 string; the sync engine compares it verbatim against stored
// values rather than parsing it.
type Task struct {
	GID        string `json:"gid"`
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Completed  bool   `json:"completed"`
	Assignee   string `json:"-"`
	DueOn      string `json:"due_on,omitempty"`
}

// User is an Asana workspace user.
type User struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TaskRequest is the body of a create or update task call.
type TaskRequest struct {
	Name         string            `json:"name,omitempty"`
	HTMLNotes    string            `json:"html_notes,omitempty"`
	Projects     []string          `json:"projects,omitempty"`
	Assignee     string            `json:"assignee,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Completed    *bool             `json:"completed,omitempty"`
	DueOn        string            `json:"due_on,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// TaskClient is the surface of the Asana API the sync engine consumes.
type TaskClient interface {
	// GetTask returns the task with the given gid, or nil if it does not
	// exist or cannot be fetched.
	GetTask(gid string) (*Task, error)
	CreateTask(req TaskRequest) (*Task, error)
	UpdateTask(gid string, req TaskRequest) (*Task, error)
	// GetProjectTasks returns every task in the project, following
	// pagination.
	GetProjectTasks(projectGID string) ([]Task, error)
	GetUsers(workspaceGID string) ([]User, error)
	GetWorkspaceGID(name string) (string, error)
	GetProjectGID(workspaceGID, name string) (string, error)
	// EnsureTag returns the gid of the named workspace tag, creating it if
	// missing.
	EnsureTag(workspaceGID, name string) (string, error)
	GetTaskTags(taskGID string) ([]string, error)
	AddTagToTask(taskGID, tagGID string) error
}
