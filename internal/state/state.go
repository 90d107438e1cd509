// Package state implements the unified, domain-partitioned state store.
// A single Store instance is authoritative per process; every mutation goes
// through Dispatch and every read sees a stable point-in-time snapshot.
package state

import (
	"time"

	"swarmline/internal/action"
	"swarmline/internal/domain"
)

// UnifiedState is the full state tree. Snapshots are immutable: Dispatch
// copies the touched domain sub-state before mutating, so a snapshot held by
// a reader stays internally consistent while later dispatches proceed.
type UnifiedState struct {
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"last_updated"`

	Swarm         SwarmState         `json:"swarm"`
	Agents        AgentsState        `json:"agents"`
	Tasks         TasksState         `json:"tasks"`
	Sessions      SessionsState      `json:"sessions"`
	Memory        MemoryState        `json:"memory"`
	Orchestration OrchestrationState `json:"orchestration"`
	Health        HealthState        `json:"health"`
	Metrics       MetricsState       `json:"metrics"`
	Config        ConfigState        `json:"config"`
}

type SwarmState struct {
	Objectives        map[string]domain.Objective `json:"objectives"`
	ActiveObjectiveID string                      `json:"active_objective_id,omitempty"`
}

type AgentsState struct {
	Agents map[string]domain.Agent `json:"agents"`
}

type TasksState struct {
	Tasks map[string]domain.Task `json:"tasks"`
	// Queue holds pending task ids in creation order.
	Queue []string `json:"queue"`
}

type SessionsState struct {
	Sessions map[string]domain.Session `json:"sessions"`
}

type MemoryState struct {
	Entries map[string]domain.MemoryEntry `json:"entries"`
	// Namespaces counts live entries per namespace.
	Namespaces map[string]int `json:"namespaces"`
}

// SyncRecord summarizes the last completed sync round for one root.
type SyncRecord struct {
	Direction   string    `json:"direction"`
	SyncedTasks int       `json:"synced_tasks"`
	Conflicts   int       `json:"conflicts"`
	CompletedAt time.Time `json:"completed_at"`
}

type OrchestrationState struct {
	LastSync map[string]SyncRecord `json:"last_sync"`
}

type ComponentHealth struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthState struct {
	Components map[string]ComponentHealth `json:"components"`
}

type MetricsState struct {
	Counters map[string]int64 `json:"counters"`
}

type ConfigState struct {
	Values map[string]string `json:"values"`
}

func newUnifiedState() *UnifiedState {
	return &UnifiedState{
		Swarm:         SwarmState{Objectives: map[string]domain.Objective{}},
		Agents:        AgentsState{Agents: map[string]domain.Agent{}},
		Tasks:         TasksState{Tasks: map[string]domain.Task{}},
		Sessions:      SessionsState{Sessions: map[string]domain.Session{}},
		Memory:        MemoryState{Entries: map[string]domain.MemoryEntry{}, Namespaces: map[string]int{}},
		Orchestration: OrchestrationState{LastSync: map[string]SyncRecord{}},
		Health:        HealthState{Components: map[string]ComponentHealth{}},
		Metrics:       MetricsState{Counters: map[string]int64{}},
		Config:        ConfigState{Values: map[string]string{}},
	}
}

// StateChange is the immutable audit record of one successful dispatch.
type StateChange struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Action    action.Action `json:"action"`
	Path      string        `json:"path"`
	Previous  any           `json:"previous,omitempty"`
	New       any           `json:"new,omitempty"`
}

// ChangeSink receives every StateChange after a successful dispatch, e.g.
// the SQLite changelog. Sink errors are logged, never fatal.
type ChangeSink interface {
	Append(StateChange) error
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
