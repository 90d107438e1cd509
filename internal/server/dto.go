package server

import (
	"time"

	"swarmline/internal/domain"
)

// TaskChangeRequest is one live-update notification from the editor
// extension, carried over HTTP instead of the file watcher.
type TaskChangeRequest struct {
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

type TaskResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	Progress     int       `json:"progress"`
	Dependencies []string  `json:"dependencies,omitempty"`
	AssignedTo   string    `json:"assigned_to,omitempty"`
	Phase        string    `json:"phase,omitempty"`
	Estimate     string    `json:"estimate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Status:       string(t.Status),
		Priority:     t.Priority.String(),
		Progress:     t.Progress,
		Dependencies: t.Dependencies,
		AssignedTo:   t.AssignedTo,
		Phase:        t.Phase,
		Estimate:     t.Estimate,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

type AgentResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Capabilities []string  `json:"capabilities,omitempty"`
	CurrentTask  string    `json:"current_task,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func agentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Status:       string(a.Status),
		Capabilities: a.Capabilities,
		CurrentTask:  a.CurrentTask,
		UpdatedAt:    a.UpdatedAt,
	}
}

type StatusResponse struct {
	Version     int64            `json:"version"`
	LastUpdated time.Time        `json:"last_updated"`
	TaskCounts  map[string]int   `json:"task_counts"`
	AgentCounts map[string]int   `json:"agent_counts"`
	Counters    map[string]int64 `json:"counters,omitempty"`
	Sync        []SyncStatus     `json:"sync,omitempty"`
}

type SyncStatus struct {
	Root     string    `json:"root"`
	Phase    string    `json:"phase"`
	LastSync time.Time `json:"last_sync"`
	Degraded bool      `json:"degraded"`
}
