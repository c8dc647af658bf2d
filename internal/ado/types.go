// Package ado provides the Azure DevOps collaborator interfaces and a thin
// REST client. The sync engine depends only on the interfaces so tests can
// substitute fakes.
package ado

// Project is an ADO team project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Team is a team within an ADO project.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkItem is one ADO work item. Rev increases monotonically with every
// edit and drives staleness detection.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	Fields map[string]any `json:"fields"`
	URL    string         `json:"url"`
}

// Title returns the System.Title field.
func (w *WorkItem) Title() string {
	s, _ := w.Fields["System.Title"].(string)
	return s
}

// Type returns the System.WorkItemType field.
func (w *WorkItem) Type() string {
	s, _ := w.Fields["System.WorkItemType"].(string)
	return s
}

// State returns the System.State field.
func (w *WorkItem) State() string {
	s, _ := w.Fields["System.State"].(string)
	return s
}

// DueDate returns the scheduling due date field, or "" when unset.
func (w *WorkItem) DueDate() string {
	s, _ := w.Fields["Microsoft.VSTS.Scheduling.DueDate"].(string)
	return s
}

// AssignedTo returns the display name and unique name (email) of the
// assignee, or ok=false when the item is unassigned or the identity record
// is incomplete.
func (w *WorkItem) AssignedTo() (displayName, email string, ok bool) {
	assigned, _ := w.Fields["System.AssignedTo"].(map[string]any)
	if assigned == nil {
		return "", "", false
	}
	displayName, _ = assigned["displayName"].(string)
	email, _ = assigned["uniqueName"].(string)
	if displayName == "" || email == "" {
		return "", "", false
	}
	return displayName, email, true
}

// Repository is a git repository within an ADO project.
type Repository struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectName string `json:"-"`
	WebURL      string `json:"webUrl"`
}

// PullRequest is one ADO pull request. Status is one of active, completed,
// abandoned or draft as reported by the API.
type PullRequest struct {
	PullRequestID int    `json:"pullRequestId"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	WebURL        string `json:"webUrl"`
}

// IdentityRef is the nested user record some reviewer payloads carry.
type IdentityRef struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// Reviewer is one reviewer on a pull request. The vote arrives as an
// integer code from the REST API but older payloads may carry a string, so
// it is decoded loosely.
type Reviewer struct {
	DisplayName string       `json:"displayName"`
	UniqueName  string       `json:"uniqueName"`
	Vote        any          `json:"vote"`
	User        *IdentityRef `json:"user,omitempty"`
}

// CoreClient resolves projects and teams by name.
type CoreClient interface {
	GetProject(name string) (*Project, error)
	GetTeam(projectName, teamName string) (*Team, error)
}

// WorkClient lists backlog work item ids for a (project, team) pair.
type WorkClient interface {
	GetBacklogWorkItemIDs(projectID, teamID string) ([]int, error)
}

// WorkItemClient fetches single work items with their current revision.
type WorkItemClient interface {
	GetWorkItem(id int) (*WorkItem, error)
}

// GitClient exposes the pull request surface used by the PR sync pass.
type GitClient interface {
	GetRepositories(projectID string) ([]Repository, error)
	GetActivePullRequests(repositoryID string) ([]PullRequest, error)
	GetPullRequestByID(prID int, repositoryID string) (*PullRequest, error)
	GetPullRequestReviewers(repositoryID string, prID int) ([]Reviewer, error)
}
