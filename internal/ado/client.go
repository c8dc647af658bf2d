package ado

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const apiVersion = "7.0"

// Client is a minimal Azure DevOps REST client authenticated with a
// personal access token. It implements CoreClient, WorkClient,
// WorkItemClient and GitClient.
type Client struct {
	baseURL string
	pat     string
	http    *http.Client
}

// NewClient returns a client for the given organization base URL, for
// example https://dev.azure.com/myorg.
func NewClient(baseURL, pat string) *Client {
	return &Client{
		baseURL: baseURL,
		pat:     pat,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the organization base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth("", c.pat)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ado api returned %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetProject resolves a project by name.
func (c *Client) GetProject(name string) (*Project, error) {
	var p Project
	path := fmt.Sprintf("/_apis/projects/%s?api-version=%s", url.PathEscape(name), apiVersion)
	if err := c.getJSON(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetTeam resolves a team by name within a project.
func (c *Client) GetTeam(projectName, teamName string) (*Team, error) {
	var t Team
	path := fmt.Sprintf("/_apis/projects/%s/teams/%s?api-version=%s",
		url.PathEscape(projectName), url.PathEscape(teamName), apiVersion)
	if err := c.getJSON(path, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetBacklogWorkItemIDs returns the work item ids on the requirement-level
// backlog for the given project and team.
func (c *Client) GetBacklogWorkItemIDs(projectID, teamID string) ([]int, error) {
	var payload struct {
		WorkItems []struct {
			Target struct {
				ID int `json:"id"`
			} `json:"target"`
		} `json:"workItems"`
	}
	path := fmt.Sprintf("/%s/%s/_apis/work/backlogs/Microsoft.RequirementCategory/workItems?api-version=%s",
		url.PathEscape(projectID), url.PathEscape(teamID), apiVersion)
	if err := c.getJSON(path, &payload); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(payload.WorkItems))
	for _, wi := range payload.WorkItems {
		ids = append(ids, wi.Target.ID)
	}
	return ids, nil
}

// GetWorkItem fetches one work item by id, including its revision and all
// fields.
func (c *Client) GetWorkItem(id int) (*WorkItem, error) {
	var wi WorkItem
	path := fmt.Sprintf("/_apis/wit/workitems/%d?$expand=links&api-version=%s", id, apiVersion)
	if err := c.getJSON(path, &wi); err != nil {
		return nil, err
	}
	return &wi, nil
}

// GetRepositories lists the git repositories of a project.
func (c *Client) GetRepositories(projectID string) ([]Repository, error) {
	var payload struct {
		Value []Repository `json:"value"`
	}
	path := fmt.Sprintf("/%s/_apis/git/repositories?api-version=%s", url.PathEscape(projectID), apiVersion)
	if err := c.getJSON(path, &payload); err != nil {
		return nil, err
	}
	return payload.Value, nil
}

// GetActivePullRequests lists the active pull requests of a repository.
func (c *Client) GetActivePullRequests(repositoryID string) ([]PullRequest, error) {
	var payload struct {
		Value []PullRequest `json:"value"`
	}
	path := fmt.Sprintf("/_apis/git/repositories/%s/pullrequests?searchCriteria.status=active&api-version=%s",
		url.PathEscape(repositoryID), apiVersion)
	if err := c.getJSON(path, &payload); err != nil {
		return nil, err
	}
	return payload.Value, nil
}

// GetPullRequestByID fetches one pull request regardless of status.
func (c *Client) GetPullRequestByID(prID int, repositoryID string) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/_apis/git/repositories/%s/pullrequests/%d?api-version=%s",
		url.PathEscape(repositoryID), prID, apiVersion)
	if err := c.getJSON(path, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPullRequestReviewers lists the reviewers of a pull request.
func (c *Client) GetPullRequestReviewers(repositoryID string, prID int) ([]Reviewer, error) {
	var payload struct {
		Value []Reviewer `json:"value"`
	}
	path := fmt.Sprintf("/_apis/git/repositories/%s/pullrequests/%d/reviewers?api-version=%s",
		url.PathEscape(repositoryID), prID, apiVersion)
	if err := c.getJSON(path, &payload); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"pr": prID, "reviewers": len(payload.Value)}).Debug("fetched PR reviewers")
	return payload.Value, nil
}
