// Package taskfile reads and writes the external task file format shared
// with the editor extension. The external document uses camelCase keys and
// its own status vocabulary; mapping both ways is total so a round trip
// through the external form reproduces the internal task exactly.
package taskfile

import (
	"encoding/json"
	"fmt"
	"time"

	"swarmline/internal/domain"
)

// Document is one external task file.
type Document struct {
	Tasks        []ExternalTask `json:"tasks"`
	Version      int            `json:"version"`
	LastModified time.Time      `json:"lastModified"`
}

// FormatVersion is written on every outward save.
const FormatVersion = 1

// ExternalTask is the wire form of a task. Fields the extension writes but
// this tool does not understand are kept in Extra and re-emitted verbatim.
type ExternalTask struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Status       string            `json:"status"`
	Priority     string            `json:"priority,omitempty"`
	Progress     int               `json:"progress,omitempty"`
	Subtasks     []ExternalSubtask `json:"subtasks,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Phase        string            `json:"phase,omitempty"`
	Agent        string            `json:"agent,omitempty"`
	Estimate     string            `json:"estimate,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`

	Extra map[string]json.RawMessage `json:"-"`
}

type ExternalSubtask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// knownTaskKeys are the JSON keys the typed fields above already cover.
var knownTaskKeys = map[string]bool{
	"id": true, "title": true, "description": true, "status": true,
	"priority": true, "progress": true, "subtasks": true,
	"dependencies": true, "phase": true, "agent": true, "estimate": true,
	"createdAt": true, "updatedAt": true,
}

func (t *ExternalTask) UnmarshalJSON(data []byte) error {
	type plain ExternalTask
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownTaskKeys[k] {
			delete(raw, k)
		}
	}
	*t = ExternalTask(p)
	if len(raw) > 0 {
		t.Extra = raw
	}
	return nil
}

func (t ExternalTask) MarshalJSON() ([]byte, error) {
	type plain ExternalTask
	base, err := json.Marshal(plain(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if !knownTaskKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// External status vocabulary.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
	StatusCancelled  = "cancelled"
)

var statusToInternal = map[string]domain.TaskStatus{
	StatusTodo:       domain.TaskPending,
	StatusInProgress: domain.TaskInProgress,
	StatusCompleted:  domain.TaskCompleted,
	StatusBlocked:    domain.TaskBlocked,
	StatusCancelled:  domain.TaskCancelled,
}

var statusToExternal = map[domain.TaskStatus]string{
	domain.TaskPending:    StatusTodo,
	domain.TaskInProgress: StatusInProgress,
	domain.TaskCompleted:  StatusCompleted,
	domain.TaskBlocked:    StatusBlocked,
	domain.TaskCancelled:  StatusCancelled,
}

// ToInternal converts one external task. Unknown status or priority values
// fall back to the most conservative internal value and are reported as
// warnings rather than errors.
func ToInternal(ext ExternalTask) (domain.Task, []string) {
	var warnings []string

	status, ok := statusToInternal[ext.Status]
	if !ok {
		status = domain.TaskPending
		warnings = append(warnings, fmt.Sprintf("task %s: unknown status %q, treating as %s", ext.ID, ext.Status, domain.TaskPending))
	}
	priority := domain.PriorityMedium
	if ext.Priority != "" {
		p, err := domain.ParsePriority(ext.Priority)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("task %s: unknown priority %q, treating as %s", ext.ID, ext.Priority, domain.PriorityMedium))
		} else {
			priority = p
		}
	}

	task := domain.Task{
		ID:           ext.ID,
		Title:        ext.Title,
		Description:  ext.Description,
		Status:       status,
		Priority:     priority,
		Dependencies: append([]string(nil), ext.Dependencies...),
		AssignedTo:   ext.Agent,
		Phase:        ext.Phase,
		Progress:     ext.Progress,
		Estimate:     ext.Estimate,
		CreatedAt:    ext.CreatedAt.UTC(),
		UpdatedAt:    ext.UpdatedAt.UTC(),
	}
	for _, st := range ext.Subtasks {
		ss, ok := statusToInternal[st.Status]
		if !ok {
			ss = domain.TaskPending
			warnings = append(warnings, fmt.Sprintf("task %s: subtask %s has unknown status %q", ext.ID, st.ID, st.Status))
		}
		task.Subtasks = append(task.Subtasks, domain.Subtask{ID: st.ID, Title: st.Title, Status: ss})
	}
	if len(ext.Extra) > 0 {
		task.Metadata = map[string]any{}
		for k, v := range ext.Extra {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				task.Metadata[k] = val
			}
		}
	}
	return task, warnings
}

// FromInternal converts one internal task to the external form. Metadata
// keys survive the trip back out through Extra.
func FromInternal(task domain.Task) ExternalTask {
	ext := ExternalTask{
		ID:           task.ID,
		Title:        task.Title,
		Description:  task.Description,
		Status:       statusToExternal[task.Status],
		Priority:     task.Priority.String(),
		Progress:     task.Progress,
		Dependencies: append([]string(nil), task.Dependencies...),
		Phase:        task.Phase,
		Agent:        task.AssignedTo,
		Estimate:     task.Estimate,
		CreatedAt:    task.CreatedAt.UTC(),
		UpdatedAt:    task.UpdatedAt.UTC(),
	}
	if ext.Status == "" {
		ext.Status = StatusTodo
	}
	for _, st := range task.Subtasks {
		es := statusToExternal[st.Status]
		if es == "" {
			es = StatusTodo
		}
		ext.Subtasks = append(ext.Subtasks, ExternalSubtask{ID: st.ID, Title: st.Title, Status: es})
	}
	if len(task.Metadata) > 0 {
		ext.Extra = map[string]json.RawMessage{}
		for k, v := range task.Metadata {
			if knownTaskKeys[k] {
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			ext.Extra[k] = raw
		}
	}
	return ext
}
