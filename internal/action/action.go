// Package action defines the closed set of state actions accepted by the
// store. Each domain verb is its own variant carrying a typed payload; the
// dispatcher switches on the concrete type rather than a string-typed tag.
package action

import (
	"strings"
	"time"

	"swarmline/internal/domain"
)

// Meta travels with every action: when it was built, which producer built
// it, and an optional reason and correlation id for tracing one logical
// operation across components.
type Meta struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewMeta builds Meta stamped with the current time.
func NewMeta(source, reason string) Meta {
	return Meta{Timestamp: time.Now().UTC(), Source: source, Reason: reason}
}

// Action is one state mutation. Actions are immutable after dispatch and are
// retained only inside the resulting StateChange record.
type Action interface {
	// Verb is "<domain>/<verb>", e.g. "tasks/upsert".
	Verb() string
	Metadata() Meta
}

// Domain extracts the domain prefix of an action's verb. Empty when the
// verb carries no "<domain>/" prefix.
func Domain(a Action) string {
	verb := a.Verb()
	idx := strings.IndexByte(verb, '/')
	if idx <= 0 {
		return ""
	}
	return verb[:idx]
}

// --- tasks ---

type TaskUpsert struct {
	Meta Meta        `json:"meta"`
	Task domain.Task `json:"task"`
}

func (a TaskUpsert) Verb() string   { return "tasks/upsert" }
func (a TaskUpsert) Metadata() Meta { return a.Meta }

type TaskStatusSet struct {
	Meta   Meta              `json:"meta"`
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

func (a TaskStatusSet) Verb() string   { return "tasks/status" }
func (a TaskStatusSet) Metadata() Meta { return a.Meta }

type TaskAssign struct {
	Meta    Meta   `json:"meta"`
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

func (a TaskAssign) Verb() string   { return "tasks/assign" }
func (a TaskAssign) Metadata() Meta { return a.Meta }

type TaskProgressSet struct {
	Meta     Meta   `json:"meta"`
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
}

func (a TaskProgressSet) Verb() string   { return "tasks/progress" }
func (a TaskProgressSet) Metadata() Meta { return a.Meta }

type TaskDelete struct {
	Meta   Meta   `json:"meta"`
	TaskID string `json:"task_id"`
}

func (a TaskDelete) Verb() string   { return "tasks/delete" }
func (a TaskDelete) Metadata() Meta { return a.Meta }

// --- agents ---

type AgentRegister struct {
	Meta  Meta         `json:"meta"`
	Agent domain.Agent `json:"agent"`
}

func (a AgentRegister) Verb() string   { return "agents/register" }
func (a AgentRegister) Metadata() Meta { return a.Meta }

type AgentStatusSet struct {
	Meta        Meta               `json:"meta"`
	AgentID     string             `json:"agent_id"`
	Status      domain.AgentStatus `json:"status"`
	CurrentTask string             `json:"current_task,omitempty"`
}

func (a AgentStatusSet) Verb() string   { return "agents/status" }
func (a AgentStatusSet) Metadata() Meta { return a.Meta }

type AgentRemove struct {
	Meta    Meta   `json:"meta"`
	AgentID string `json:"agent_id"`
}

func (a AgentRemove) Verb() string   { return "agents/remove" }
func (a AgentRemove) Metadata() Meta { return a.Meta }

// --- swarm ---

type ObjectiveSet struct {
	Meta      Meta             `json:"meta"`
	Objective domain.Objective `json:"objective"`
}

func (a ObjectiveSet) Verb() string   { return "swarm/objective" }
func (a ObjectiveSet) Metadata() Meta { return a.Meta }

type ObjectiveStatusSet struct {
	Meta        Meta                   `json:"meta"`
	ObjectiveID string                 `json:"objective_id"`
	Status      domain.ObjectiveStatus `json:"status"`
}

func (a ObjectiveStatusSet) Verb() string   { return "swarm/objective_status" }
func (a ObjectiveStatusSet) Metadata() Meta { return a.Meta }

// --- memory ---

type MemoryPut struct {
	Meta  Meta               `json:"meta"`
	Entry domain.MemoryEntry `json:"entry"`
}

func (a MemoryPut) Verb() string   { return "memory/put" }
func (a MemoryPut) Metadata() Meta { return a.Meta }

type MemoryDelete struct {
	Meta      Meta   `json:"meta"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

func (a MemoryDelete) Verb() string   { return "memory/delete" }
func (a MemoryDelete) Metadata() Meta { return a.Meta }

// --- sessions ---

type SessionStart struct {
	Meta    Meta           `json:"meta"`
	Session domain.Session `json:"session"`
}

func (a SessionStart) Verb() string   { return "sessions/start" }
func (a SessionStart) Metadata() Meta { return a.Meta }

type SessionEnd struct {
	Meta      Meta   `json:"meta"`
	SessionID string `json:"session_id"`
}

func (a SessionEnd) Verb() string   { return "sessions/end" }
func (a SessionEnd) Metadata() Meta { return a.Meta }

// --- orchestration ---

// SyncRecorded is dispatched by the synchronization engine at the end of a
// successful round so coordinators can observe sync activity through the
// same subscription bus as every other mutation.
type SyncRecorded struct {
	Meta        Meta      `json:"meta"`
	Root        string    `json:"root"`
	Direction   string    `json:"direction"`
	SyncedTasks int       `json:"synced_tasks"`
	Conflicts   int       `json:"conflicts"`
	CompletedAt time.Time `json:"completed_at"`
}

func (a SyncRecorded) Verb() string   { return "orchestration/sync" }
func (a SyncRecorded) Metadata() Meta { return a.Meta }

// --- health / metrics / config ---

type HealthSet struct {
	Meta      Meta   `json:"meta"`
	Component string `json:"component"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

func (a HealthSet) Verb() string   { return "health/set" }
func (a HealthSet) Metadata() Meta { return a.Meta }

type CounterAdd struct {
	Meta  Meta   `json:"meta"`
	Name  string `json:"name"`
	Delta int64  `json:"delta"`
}

func (a CounterAdd) Verb() string   { return "metrics/add" }
func (a CounterAdd) Metadata() Meta { return a.Meta }

type ConfigSet struct {
	Meta  Meta   `json:"meta"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (a ConfigSet) Verb() string   { return "config/set" }
func (a ConfigSet) Metadata() Meta { return a.Meta }
