package state

import (
	"fmt"
	"log"
	"sort"
	"time"

	"swarmline/internal/action"
	"swarmline/internal/domain"
)

// apply mutates exactly one domain sub-state of next (which is a fresh
// shallow copy of the current tree) and returns the partial StateChange.
// An error leaves the authoritative state untouched.
func apply(next *UnifiedState, a action.Action, now time.Time, logger *log.Logger) (StateChange, error) {
	switch act := a.(type) {
	case action.TaskUpsert:
		return applyTaskUpsert(next, act, now, logger)
	case action.TaskStatusSet:
		return applyTaskMutation(next, act.TaskID, now, "status", func(t *domain.Task) error {
			if !act.Status.Valid() {
				return fmt.Errorf("invalid task status %q", act.Status)
			}
			t.Status = act.Status
			return nil
		})
	case action.TaskAssign:
		if act.AgentID != "" {
			if _, ok := next.Agents.Agents[act.AgentID]; !ok {
				logger.Printf("state: task %s assigned to unknown agent %s", act.TaskID, act.AgentID)
			}
		}
		return applyTaskMutation(next, act.TaskID, now, "assign", func(t *domain.Task) error {
			t.AssignedTo = act.AgentID
			return nil
		})
	case action.TaskProgressSet:
		return applyTaskMutation(next, act.TaskID, now, "progress", func(t *domain.Task) error {
			if act.Progress < 0 || act.Progress > 100 {
				return fmt.Errorf("progress %d out of range", act.Progress)
			}
			t.Progress = act.Progress
			return nil
		})
	case action.TaskDelete:
		prev, ok := next.Tasks.Tasks[act.TaskID]
		if !ok {
			return StateChange{}, fmt.Errorf("task %s not found", act.TaskID)
		}
		next.Tasks.Tasks = cloneMap(next.Tasks.Tasks)
		delete(next.Tasks.Tasks, act.TaskID)
		next.Tasks.Queue = rebuildQueue(next.Tasks.Tasks, next.Tasks.Queue)
		return StateChange{Path: "tasks/" + act.TaskID, Previous: prev}, nil

	case action.AgentRegister:
		return applyAgentRegister(next, act, now)
	case action.AgentStatusSet:
		prev, ok := next.Agents.Agents[act.AgentID]
		if !ok {
			return StateChange{}, fmt.Errorf("agent %s not found", act.AgentID)
		}
		if !act.Status.Valid() {
			return StateChange{}, fmt.Errorf("invalid agent status %q", act.Status)
		}
		agent := prev
		agent.Status = act.Status
		agent.CurrentTask = act.CurrentTask
		agent.UpdatedAt = laterOf(now, prev.UpdatedAt)
		next.Agents.Agents = cloneMap(next.Agents.Agents)
		next.Agents.Agents[agent.ID] = agent
		return StateChange{Path: "agents/" + agent.ID, Previous: prev, New: agent}, nil
	case action.AgentRemove:
		prev, ok := next.Agents.Agents[act.AgentID]
		if !ok {
			return StateChange{}, fmt.Errorf("agent %s not found", act.AgentID)
		}
		next.Agents.Agents = cloneMap(next.Agents.Agents)
		delete(next.Agents.Agents, act.AgentID)
		return StateChange{Path: "agents/" + act.AgentID, Previous: prev}, nil

	case action.ObjectiveSet:
		return applyObjectiveSet(next, act, now)
	case action.ObjectiveStatusSet:
		prev, ok := next.Swarm.Objectives[act.ObjectiveID]
		if !ok {
			return StateChange{}, fmt.Errorf("objective %s not found", act.ObjectiveID)
		}
		if !act.Status.Valid() {
			return StateChange{}, fmt.Errorf("invalid objective status %q", act.Status)
		}
		obj := prev
		obj.Status = act.Status
		obj.UpdatedAt = laterOf(now, prev.UpdatedAt)
		next.Swarm.Objectives = cloneMap(next.Swarm.Objectives)
		next.Swarm.Objectives[obj.ID] = obj
		return StateChange{Path: "swarm/" + obj.ID, Previous: prev, New: obj}, nil

	case action.MemoryPut:
		return applyMemoryPut(next, act, now)
	case action.MemoryDelete:
		key := act.Namespace + "/" + act.Key
		prev, ok := next.Memory.Entries[key]
		if !ok {
			return StateChange{}, fmt.Errorf("memory entry %s not found", key)
		}
		next.Memory.Entries = cloneMap(next.Memory.Entries)
		next.Memory.Namespaces = cloneMap(next.Memory.Namespaces)
		delete(next.Memory.Entries, key)
		if next.Memory.Namespaces[act.Namespace] <= 1 {
			delete(next.Memory.Namespaces, act.Namespace)
		} else {
			next.Memory.Namespaces[act.Namespace]--
		}
		return StateChange{Path: "memory/" + key, Previous: prev}, nil

	case action.SessionStart:
		sess := act.Session
		if sess.ID == "" {
			return StateChange{}, fmt.Errorf("session id required")
		}
		if sess.StartedAt.IsZero() {
			sess.StartedAt = now
		}
		sess.Active = true
		prev, existed := next.Sessions.Sessions[sess.ID]
		next.Sessions.Sessions = cloneMap(next.Sessions.Sessions)
		next.Sessions.Sessions[sess.ID] = sess
		change := StateChange{Path: "sessions/" + sess.ID, New: sess}
		if existed {
			change.Previous = prev
		}
		return change, nil
	case action.SessionEnd:
		prev, ok := next.Sessions.Sessions[act.SessionID]
		if !ok {
			return StateChange{}, fmt.Errorf("session %s not found", act.SessionID)
		}
		sess := prev
		sess.Active = false
		sess.EndedAt = now
		next.Sessions.Sessions = cloneMap(next.Sessions.Sessions)
		next.Sessions.Sessions[sess.ID] = sess
		return StateChange{Path: "sessions/" + sess.ID, Previous: prev, New: sess}, nil

	case action.SyncRecorded:
		prev, existed := next.Orchestration.LastSync[act.Root]
		rec := SyncRecord{
			Direction:   act.Direction,
			SyncedTasks: act.SyncedTasks,
			Conflicts:   act.Conflicts,
			CompletedAt: act.CompletedAt,
		}
		if rec.CompletedAt.IsZero() {
			rec.CompletedAt = now
		}
		next.Orchestration.LastSync = cloneMap(next.Orchestration.LastSync)
		next.Orchestration.LastSync[act.Root] = rec
		change := StateChange{Path: "orchestration/" + act.Root, New: rec}
		if existed {
			change.Previous = prev
		}
		return change, nil

	case action.HealthSet:
		if act.Component == "" {
			return StateChange{}, fmt.Errorf("health component required")
		}
		prev, existed := next.Health.Components[act.Component]
		h := ComponentHealth{Healthy: act.Healthy, Detail: act.Detail, CheckedAt: now}
		next.Health.Components = cloneMap(next.Health.Components)
		next.Health.Components[act.Component] = h
		change := StateChange{Path: "health/" + act.Component, New: h}
		if existed {
			change.Previous = prev
		}
		return change, nil
	case action.CounterAdd:
		if act.Name == "" {
			return StateChange{}, fmt.Errorf("counter name required")
		}
		prev := next.Metrics.Counters[act.Name]
		next.Metrics.Counters = cloneMap(next.Metrics.Counters)
		next.Metrics.Counters[act.Name] = prev + act.Delta
		return StateChange{Path: "metrics/" + act.Name, Previous: prev, New: prev + act.Delta}, nil
	case action.ConfigSet:
		if act.Key == "" {
			return StateChange{}, fmt.Errorf("config key required")
		}
		prev, existed := next.Config.Values[act.Key]
		next.Config.Values = cloneMap(next.Config.Values)
		next.Config.Values[act.Key] = act.Value
		change := StateChange{Path: "config/" + act.Key, New: act.Value}
		if existed {
			change.Previous = prev
		}
		return change, nil

	default:
		return StateChange{}, fmt.Errorf("unsupported action %T", a)
	}
}

func applyTaskUpsert(next *UnifiedState, act action.TaskUpsert, now time.Time, logger *log.Logger) (StateChange, error) {
	t := act.Task
	if t.ID == "" {
		return StateChange{}, fmt.Errorf("task id required")
	}
	if t.Title == "" {
		return StateChange{}, fmt.Errorf("task %s: title required", t.ID)
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if !t.Status.Valid() {
		return StateChange{}, fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if t.Priority == 0 {
		t.Priority = domain.PriorityMedium
	}
	if !t.Priority.Valid() {
		return StateChange{}, fmt.Errorf("task %s: invalid priority %d", t.ID, t.Priority)
	}
	prev, existed := next.Tasks.Tasks[t.ID]
	if t.CreatedAt.IsZero() {
		if existed {
			t.CreatedAt = prev.CreatedAt
		} else {
			t.CreatedAt = now
		}
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if existed {
		// updated_at never moves backwards for a given id.
		t.UpdatedAt = laterOf(t.UpdatedAt, prev.UpdatedAt)
	}
	// Referential integrity across domains is soft: log, don't reject.
	for _, dep := range t.Dependencies {
		if _, ok := next.Tasks.Tasks[dep]; !ok && dep != t.ID {
			logger.Printf("state: task %s depends on unknown task %s", t.ID, dep)
		}
	}
	if t.AssignedTo != "" {
		if _, ok := next.Agents.Agents[t.AssignedTo]; !ok {
			logger.Printf("state: task %s assigned to unknown agent %s", t.ID, t.AssignedTo)
		}
	}
	next.Tasks.Tasks = cloneMap(next.Tasks.Tasks)
	next.Tasks.Tasks[t.ID] = t
	next.Tasks.Queue = rebuildQueue(next.Tasks.Tasks, append(cloneQueue(next.Tasks.Queue), t.ID))
	change := StateChange{Path: "tasks/" + t.ID, New: t}
	if existed {
		change.Previous = prev
	}
	return change, nil
}

// applyTaskMutation handles the narrow task verbs that edit one field of an
// existing task.
func applyTaskMutation(next *UnifiedState, id string, now time.Time, what string, mutate func(*domain.Task) error) (StateChange, error) {
	prev, ok := next.Tasks.Tasks[id]
	if !ok {
		return StateChange{}, fmt.Errorf("task %s not found", id)
	}
	t := prev
	if err := mutate(&t); err != nil {
		return StateChange{}, fmt.Errorf("task %s %s: %w", id, what, err)
	}
	t.UpdatedAt = laterOf(now, prev.UpdatedAt)
	next.Tasks.Tasks = cloneMap(next.Tasks.Tasks)
	next.Tasks.Tasks[id] = t
	next.Tasks.Queue = rebuildQueue(next.Tasks.Tasks, next.Tasks.Queue)
	return StateChange{Path: "tasks/" + id, Previous: prev, New: t}, nil
}

func applyAgentRegister(next *UnifiedState, act action.AgentRegister, now time.Time) (StateChange, error) {
	agent := act.Agent
	if agent.ID == "" {
		return StateChange{}, fmt.Errorf("agent id required")
	}
	if agent.Name == "" {
		agent.Name = agent.ID
	}
	if agent.Status == "" {
		agent.Status = domain.AgentIdle
	}
	if !agent.Status.Valid() {
		return StateChange{}, fmt.Errorf("agent %s: invalid status %q", agent.ID, agent.Status)
	}
	prev, existed := next.Agents.Agents[agent.ID]
	if agent.CreatedAt.IsZero() {
		if existed {
			agent.CreatedAt = prev.CreatedAt
		} else {
			agent.CreatedAt = now
		}
	}
	agent.UpdatedAt = laterOf(now, prev.UpdatedAt)
	next.Agents.Agents = cloneMap(next.Agents.Agents)
	next.Agents.Agents[agent.ID] = agent
	change := StateChange{Path: "agents/" + agent.ID, New: agent}
	if existed {
		change.Previous = prev
	}
	return change, nil
}

func applyObjectiveSet(next *UnifiedState, act action.ObjectiveSet, now time.Time) (StateChange, error) {
	obj := act.Objective
	if obj.ID == "" {
		return StateChange{}, fmt.Errorf("objective id required")
	}
	if obj.Goal == "" {
		return StateChange{}, fmt.Errorf("objective %s: goal required", obj.ID)
	}
	if obj.Status == "" {
		obj.Status = domain.ObjectivePlanning
	}
	if !obj.Status.Valid() {
		return StateChange{}, fmt.Errorf("objective %s: invalid status %q", obj.ID, obj.Status)
	}
	prev, existed := next.Swarm.Objectives[obj.ID]
	if obj.CreatedAt.IsZero() {
		if existed {
			obj.CreatedAt = prev.CreatedAt
		} else {
			obj.CreatedAt = now
		}
	}
	obj.UpdatedAt = laterOf(now, prev.UpdatedAt)
	next.Swarm.Objectives = cloneMap(next.Swarm.Objectives)
	next.Swarm.Objectives[obj.ID] = obj
	next.Swarm.ActiveObjectiveID = obj.ID
	change := StateChange{Path: "swarm/" + obj.ID, New: obj}
	if existed {
		change.Previous = prev
	}
	return change, nil
}

func applyMemoryPut(next *UnifiedState, act action.MemoryPut, now time.Time) (StateChange, error) {
	entry := act.Entry
	if entry.Key == "" {
		return StateChange{}, fmt.Errorf("memory key required")
	}
	if entry.Namespace == "" {
		entry.Namespace = "default"
	}
	key := entry.MemoryKey()
	prev, existed := next.Memory.Entries[key]
	if entry.CreatedAt.IsZero() {
		if existed {
			entry.CreatedAt = prev.CreatedAt
		} else {
			entry.CreatedAt = now
		}
	}
	entry.UpdatedAt = laterOf(now, prev.UpdatedAt)
	next.Memory.Entries = cloneMap(next.Memory.Entries)
	next.Memory.Namespaces = cloneMap(next.Memory.Namespaces)
	next.Memory.Entries[key] = entry
	if !existed {
		next.Memory.Namespaces[entry.Namespace]++
	}
	change := StateChange{Path: "memory/" + key, New: entry}
	if existed {
		change.Previous = prev
	}
	return change, nil
}

// rebuildQueue keeps pending ids in their original queue order and appends
// newly pending ids at the end.
func rebuildQueue(tasks map[string]domain.Task, candidate []string) []string {
	seen := make(map[string]struct{}, len(candidate))
	out := make([]string, 0, len(candidate))
	for _, id := range candidate {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if t, ok := tasks[id]; ok && t.Status == domain.TaskPending {
			out = append(out, id)
		}
	}
	var missing []string
	for id, t := range tasks {
		if t.Status != domain.TaskPending {
			continue
		}
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	// Deterministic order so replaying the change log reproduces the queue.
	sort.Slice(missing, func(i, j int) bool {
		a, b := tasks[missing[i]], tasks[missing[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return missing[i] < missing[j]
	})
	return append(out, missing...)
}

func cloneQueue(q []string) []string {
	out := make([]string, len(q))
	copy(out, q)
	return out
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
