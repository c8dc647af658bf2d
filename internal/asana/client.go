package asana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	baseURL = "https://app.asana.com/api/1.0"
	// PageSize is the number of records requested per page, 1-100.
	PageSize = 100
)

// Client is a minimal Asana REST client using a personal access token.
type Client struct {
	token string
	base  string
	http  *http.Client
}

// NewClient returns a client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		token: token,
		base:  baseURL,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("asana api returned %s for %s %s", resp.Status, method, path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetTask fetches one task, or nil when it does not exist.
func (c *Client) GetTask(gid string) (*Task, error) {
	var payload struct {
		Data Task `json:"data"`
	}
	path := fmt.Sprintf("/tasks/%s?opt_fields=name,modified_at,completed,due_on", url.PathEscape(gid))
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		log.WithError(err).WithField("gid", gid).Error("failed to get asana task")
		return nil, err
	}
	return &payload.Data, nil
}

// CreateTask creates a task and returns the created record.
func (c *Client) CreateTask(req TaskRequest) (*Task, error) {
	var payload struct {
		Data Task `json:"data"`
	}
	body := map[string]any{"data": req}
	if err := c.do(http.MethodPost, "/tasks", body, &payload); err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

// UpdateTask updates a task and returns the updated record.
func (c *Client) UpdateTask(gid string, req TaskRequest) (*Task, error) {
	var payload struct {
		Data Task `json:"data"`
	}
	body := map[string]any{"data": req}
	if err := c.do(http.MethodPut, "/tasks/"+url.PathEscape(gid), body, &payload); err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

// GetProjectTasks returns every task in the project, following the offset
// continuation token across pages.
func (c *Client) GetProjectTasks(projectGID string) ([]Task, error) {
	var all []Task
	offset := ""
	for {
		path := fmt.Sprintf("/tasks?project=%s&limit=%d&opt_fields=name,modified_at,completed,assignee,due_on",
			url.QueryEscape(projectGID), PageSize)
		if offset != "" {
			path += "&offset=" + url.QueryEscape(offset)
		}
		var payload struct {
			Data     []Task `json:"data"`
			NextPage *struct {
				Offset string `json:"offset"`
			} `json:"next_page"`
		}
		if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
			return nil, err
		}
		all = append(all, payload.Data...)
		if payload.NextPage == nil || payload.NextPage.Offset == "" {
			break
		}
		offset = payload.NextPage.Offset
	}
	return all, nil
}

// GetUsers returns all users of the workspace with name and email.
func (c *Client) GetUsers(workspaceGID string) ([]User, error) {
	var payload struct {
		Data []User `json:"data"`
	}
	path := fmt.Sprintf("/users?workspace=%s&opt_fields=name,email", url.QueryEscape(workspaceGID))
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetWorkspaceGID resolves a workspace gid by name.
func (c *Client) GetWorkspaceGID(name string) (string, error) {
	var payload struct {
		Data []struct {
			GID  string `json:"gid"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.do(http.MethodGet, "/workspaces", nil, &payload); err != nil {
		return "", err
	}
	for _, w := range payload.Data {
		if w.Name == name {
			return w.GID, nil
		}
	}
	return "", fmt.Errorf("workspace %q not found", name)
}

// GetProjectGID resolves a project gid by name within a workspace.
func (c *Client) GetProjectGID(workspaceGID, name string) (string, error) {
	var payload struct {
		Data []struct {
			GID  string `json:"gid"`
			Name string `json:"name"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/projects?workspace=%s&archived=false", url.QueryEscape(workspaceGID))
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return "", err
	}
	for _, p := range payload.Data {
		if p.Name == name {
			return p.GID, nil
		}
	}
	return "", fmt.Errorf("project %q not found in workspace", name)
}

// EnsureTag returns the gid of the named tag, creating the tag when it does
// not exist yet.
func (c *Client) EnsureTag(workspaceGID, name string) (string, error) {
	var payload struct {
		Data []struct {
			GID  string `json:"gid"`
			Name string `json:"name"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/tags?workspace=%s", url.QueryEscape(workspaceGID))
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return "", err
	}
	for _, t := range payload.Data {
		if t.Name == name {
			return t.GID, nil
		}
	}

	log.WithField("tag", name).Info("tag not found, creating it")
	var created struct {
		Data struct {
			GID string `json:"gid"`
		} `json:"data"`
	}
	body := map[string]any{"data": map[string]any{"name": name, "workspace": workspaceGID}}
	if err := c.do(http.MethodPost, "/tags", body, &created); err != nil {
		return "", err
	}
	return created.Data.GID, nil
}

// GetTaskTags returns the gids of the tags on a task.
func (c *Client) GetTaskTags(taskGID string) ([]string, error) {
	var payload struct {
		Data []struct {
			GID string `json:"gid"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/tasks/%s/tags", url.PathEscape(taskGID))
	if err := c.do(http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	gids := make([]string, 0, len(payload.Data))
	for _, t := range payload.Data {
		gids = append(gids, t.GID)
	}
	return gids, nil
}

// AddTagToTask attaches a tag to a task.
func (c *Client) AddTagToTask(taskGID, tagGID string) error {
	body := map[string]any{"data": map[string]any{"tag": tagGID}}
	return c.do(http.MethodPost, fmt.Sprintf("/tasks/%s/addTag", url.PathEscape(taskGID)), body, nil)
}
