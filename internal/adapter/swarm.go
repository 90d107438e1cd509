package adapter

import (
	"sort"

	"swarmline/internal/action"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

// Swarm is the typed façade over the swarm domain.
type Swarm struct {
	Store  *state.Store
	Source string
}

func (a Swarm) SetObjective(obj domain.Objective, reason string) error {
	return a.Store.Dispatch(action.ObjectiveSet{Meta: meta(a.Source, reason), Objective: obj})
}

func (a Swarm) SetObjectiveStatus(id string, status domain.ObjectiveStatus, reason string) error {
	return a.Store.Dispatch(action.ObjectiveStatusSet{Meta: meta(a.Source, reason), ObjectiveID: id, Status: status})
}

func (a Swarm) ByID(id string) (domain.Objective, error) {
	obj, ok := a.Store.Snapshot().Swarm.Objectives[id]
	if !ok {
		return domain.Objective{}, ErrNotFound
	}
	return obj, nil
}

// Active returns the most recently set objective.
func (a Swarm) Active() (domain.Objective, bool) {
	snap := a.Store.Snapshot()
	obj, ok := snap.Swarm.Objectives[snap.Swarm.ActiveObjectiveID]
	return obj, ok
}

func (a Swarm) List() []domain.Objective {
	m := a.Store.Snapshot().Swarm.Objectives
	out := make([]domain.Objective, 0, len(m))
	for _, obj := range m {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ObjectiveProgress is a cross-domain statistic computed from one snapshot,
// so the task counts are consistent with the objective's task list.
type ObjectiveProgress struct {
	ObjectiveID string  `json:"objective_id"`
	TotalTasks  int     `json:"total_tasks"`
	Completed   int     `json:"completed"`
	InProgress  int     `json:"in_progress"`
	Percent     float64 `json:"percent"`
}

func (a Swarm) Progress(objectiveID string) (ObjectiveProgress, error) {
	snap := a.Store.Snapshot()
	obj, ok := snap.Swarm.Objectives[objectiveID]
	if !ok {
		return ObjectiveProgress{}, ErrNotFound
	}
	p := ObjectiveProgress{ObjectiveID: objectiveID}
	for _, id := range obj.TaskIDs {
		t, ok := snap.Tasks.Tasks[id]
		if !ok {
			continue
		}
		p.TotalTasks++
		switch t.Status {
		case domain.TaskCompleted:
			p.Completed++
		case domain.TaskInProgress:
			p.InProgress++
		}
	}
	if p.TotalTasks > 0 {
		p.Percent = float64(p.Completed) / float64(p.TotalTasks) * 100
	}
	return p, nil
}
