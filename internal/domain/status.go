package domain

import (
	"encoding/json"
	"fmt"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every valid task status.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskCancelled}
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskBlocked, TaskCancelled:
		return true
	}
	return false
}

type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentOffline, AgentError:
		return true
	}
	return false
}

type ObjectiveStatus string

const (
	ObjectivePlanning  ObjectiveStatus = "planning"
	ObjectiveExecuting ObjectiveStatus = "executing"
	ObjectiveCompleted ObjectiveStatus = "completed"
	ObjectiveFailed    ObjectiveStatus = "failed"
)

func (s ObjectiveStatus) Valid() bool {
	switch s {
	case ObjectivePlanning, ObjectiveExecuting, ObjectiveCompleted, ObjectiveFailed:
		return true
	}
	return false
}

// Priority is an ordered urgency level. Higher values never silently
// downgrade during conflict resolution.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// ParsePriority maps a name to its Priority. Unknown names error.
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", name)
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if n, ok := priorityNames[p]; ok {
		return json.Marshal(n)
	}
	return json.Marshal(int(p))
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, perr := ParsePriority(name)
		if perr != nil {
			return perr
		}
		*p = parsed
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid priority %s", string(data))
	}
	*p = Priority(v)
	return nil
}
