package adapter

import (
	"sort"

	"swarmline/internal/action"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

// Task is the typed façade over the tasks domain.
type Task struct {
	Store  *state.Store
	Source string
}

func (a Task) Upsert(t domain.Task, reason string) error {
	return a.Store.Dispatch(action.TaskUpsert{Meta: meta(a.Source, reason), Task: t})
}

func (a Task) SetStatus(id string, status domain.TaskStatus, reason string) error {
	return a.Store.Dispatch(action.TaskStatusSet{Meta: meta(a.Source, reason), TaskID: id, Status: status})
}

func (a Task) Assign(id, agentID, reason string) error {
	return a.Store.Dispatch(action.TaskAssign{Meta: meta(a.Source, reason), TaskID: id, AgentID: agentID})
}

func (a Task) SetProgress(id string, progress int, reason string) error {
	return a.Store.Dispatch(action.TaskProgressSet{Meta: meta(a.Source, reason), TaskID: id, Progress: progress})
}

func (a Task) Delete(id, reason string) error {
	return a.Store.Dispatch(action.TaskDelete{Meta: meta(a.Source, reason), TaskID: id})
}

func (a Task) ByID(id string) (domain.Task, error) {
	t, ok := a.Store.Snapshot().Tasks.Tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

// List returns every task ordered by creation time, then id.
func (a Task) List() []domain.Task {
	return sortTasks(a.Store.Snapshot().Tasks.Tasks, func(domain.Task) bool { return true })
}

func (a Task) ListByStatus(status domain.TaskStatus) []domain.Task {
	return sortTasks(a.Store.Snapshot().Tasks.Tasks, func(t domain.Task) bool { return t.Status == status })
}

// NextPending picks the next runnable task: status pending, every dependency
// completed, highest priority first, ties broken by earliest creation.
func (a Task) NextPending() (domain.Task, bool) {
	snap := a.Store.Snapshot()
	var best domain.Task
	found := false
	for _, id := range snap.Tasks.Queue {
		t, ok := snap.Tasks.Tasks[id]
		if !ok || t.Status != domain.TaskPending {
			continue
		}
		if !dependenciesCompleted(snap, t) {
			continue
		}
		if !found || betterCandidate(t, best) {
			best = t
			found = true
		}
	}
	return best, found
}

func dependenciesCompleted(snap *state.UnifiedState, t domain.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := snap.Tasks.Tasks[dep]
		if !ok || d.Status != domain.TaskCompleted {
			return false
		}
	}
	return true
}

func betterCandidate(t, best domain.Task) bool {
	if t.Priority != best.Priority {
		return t.Priority > best.Priority
	}
	if !t.CreatedAt.Equal(best.CreatedAt) {
		return t.CreatedAt.Before(best.CreatedAt)
	}
	return t.ID < best.ID
}

// TaskStats aggregates one snapshot of the tasks domain.
type TaskStats struct {
	Total      int                       `json:"total"`
	ByStatus   map[domain.TaskStatus]int `json:"by_status"`
	ByAssignee map[string]int            `json:"by_assignee"`
}

func (a Task) Stats() TaskStats {
	snap := a.Store.Snapshot()
	stats := TaskStats{
		ByStatus:   map[domain.TaskStatus]int{},
		ByAssignee: map[string]int{},
	}
	for _, t := range snap.Tasks.Tasks {
		stats.Total++
		stats.ByStatus[t.Status]++
		if t.AssignedTo != "" {
			stats.ByAssignee[t.AssignedTo]++
		}
	}
	return stats
}

func sortTasks(m map[string]domain.Task, keep func(domain.Task) bool) []domain.Task {
	out := make([]domain.Task, 0, len(m))
	for _, t := range m {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
