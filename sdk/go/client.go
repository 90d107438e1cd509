// Package swarmlinesdk is a minimal client for the Swarmline HTTP API.
package swarmlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one Swarmline server. BearerToken must be a JWT signed
// with the server's secret; every endpoint except health requires it.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Progress     int      `json:"progress"`
	Dependencies []string `json:"dependencies,omitempty"`
	AssignedTo   string   `json:"assigned_to,omitempty"`
	Phase        string   `json:"phase,omitempty"`
	Estimate     string   `json:"estimate,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// TaskChange is a live-update notification. Zero fields are left untouched
// on the server; Progress uses a pointer so zero percent is expressible.
type TaskChange struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	Progress     *int     `json:"progress,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Phase        string   `json:"phase,omitempty"`
	Agent        string   `json:"agent,omitempty"`
	Estimate     string   `json:"estimate,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// Agent represents the API agent model.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities,omitempty"`
	CurrentTask  string   `json:"current_task,omitempty"`
	UpdatedAt    string   `json:"updated_at"`
}

// Status summarizes the server's state tree.
type Status struct {
	Version     int64            `json:"version"`
	LastUpdated string           `json:"last_updated"`
	TaskCounts  map[string]int   `json:"task_counts"`
	AgentCounts map[string]int   `json:"agent_counts"`
	Counters    map[string]int64 `json:"counters,omitempty"`
	Sync        []SyncStatus     `json:"sync,omitempty"`
}

// SyncStatus reports one sync root.
type SyncStatus struct {
	Root     string `json:"root"`
	Phase    string `json:"phase"`
	LastSync string `json:"last_sync"`
	Degraded bool   `json:"degraded"`
}

// SyncResult is the outcome of one triggered sync round.
type SyncResult struct {
	Success     bool     `json:"success"`
	SyncedTasks int      `json:"synced_tasks"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Status returns the server's status summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "v0/tasks"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Task fetches one task by id.
func (c *Client) Task(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpsertTask pushes a live task update, creating the task if needed.
func (c *Client) UpsertTask(ctx context.Context, change TaskChange) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", change, &resp)
	return resp, err
}

// UpdateTask applies a partial update to an existing task.
func (c *Client) UpdateTask(ctx context.Context, id string, change TaskChange) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), change, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, nil)
}

// Agents lists registered agents.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, "v0/agents", nil, &resp)
	return resp, err
}

// TriggerSync runs one sync round for the named root.
func (c *Client) TriggerSync(ctx context.Context, root string) (SyncResult, error) {
	var resp SyncResult
	err := c.do(ctx, http.MethodPost, "v0/sync/"+url.PathEscape(root), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
