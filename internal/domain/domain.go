package domain

import "time"

// Domain names partition the unified state tree. Every entity lives in
// exactly one domain map and every action targets exactly one domain.
const (
	DomainSwarm         = "swarm"
	DomainAgents        = "agents"
	DomainTasks         = "tasks"
	DomainSessions      = "sessions"
	DomainMemory        = "memory"
	DomainOrchestration = "orchestration"
	DomainHealth        = "health"
	DomainMetrics       = "metrics"
	DomainConfig        = "config"
)

// Domains lists every domain in a fixed order.
func Domains() []string {
	return []string{
		DomainSwarm, DomainAgents, DomainTasks, DomainSessions, DomainMemory,
		DomainOrchestration, DomainHealth, DomainMetrics, DomainConfig,
	}
}

type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Status       TaskStatus     `json:"status"`
	Priority     Priority       `json:"priority"`
	Dependencies []string       `json:"dependencies,omitempty"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	Phase        string         `json:"phase,omitempty"`
	Progress     int            `json:"progress,omitempty"`
	Subtasks     []Subtask      `json:"subtasks,omitempty"`
	Estimate     string         `json:"estimate,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Subtask struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"type,omitempty"`
	Status       AgentStatus    `json:"status"`
	Capabilities []string       `json:"capabilities,omitempty"`
	CurrentTask  string         `json:"current_task,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Objective struct {
	ID        string          `json:"id"`
	Goal      string          `json:"goal"`
	Status    ObjectiveStatus `json:"status"`
	Strategy  string          `json:"strategy,omitempty"`
	TaskIDs   []string        `json:"task_ids,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

type MemoryEntry struct {
	Key       string         `json:"key"`
	Namespace string         `json:"namespace"`
	Value     any            `json:"value"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MemoryKey identifies an entry inside the memory domain map.
func (m MemoryEntry) MemoryKey() string {
	return m.Namespace + "/" + m.Key
}

// Expired reports whether the entry has an elapsed TTL at the given instant.
func (m MemoryEntry) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

type Session struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Active    bool      `json:"active"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
