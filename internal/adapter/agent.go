package adapter

import (
	"sort"

	"swarmline/internal/action"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

// Agent is the typed façade over the agents domain.
type Agent struct {
	Store  *state.Store
	Source string
}

func (a Agent) Register(agent domain.Agent, reason string) error {
	return a.Store.Dispatch(action.AgentRegister{Meta: meta(a.Source, reason), Agent: agent})
}

func (a Agent) SetStatus(id string, status domain.AgentStatus, currentTask, reason string) error {
	return a.Store.Dispatch(action.AgentStatusSet{
		Meta:        meta(a.Source, reason),
		AgentID:     id,
		Status:      status,
		CurrentTask: currentTask,
	})
}

func (a Agent) Remove(id, reason string) error {
	return a.Store.Dispatch(action.AgentRemove{Meta: meta(a.Source, reason), AgentID: id})
}

func (a Agent) ByID(id string) (domain.Agent, error) {
	agent, ok := a.Store.Snapshot().Agents.Agents[id]
	if !ok {
		return domain.Agent{}, ErrNotFound
	}
	return agent, nil
}

func (a Agent) List() []domain.Agent {
	return sortAgents(a.Store.Snapshot().Agents.Agents, func(domain.Agent) bool { return true })
}

// Available returns idle agents whose capability set contains every
// requested capability (AND semantics, not any-match).
func (a Agent) Available(capabilities ...string) []domain.Agent {
	return sortAgents(a.Store.Snapshot().Agents.Agents, func(agent domain.Agent) bool {
		if agent.Status != domain.AgentIdle {
			return false
		}
		return hasAllCapabilities(agent.Capabilities, capabilities)
	})
}

func hasAllCapabilities(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range want {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// AgentStats aggregates one snapshot of the agents domain.
type AgentStats struct {
	Total    int                        `json:"total"`
	ByStatus map[domain.AgentStatus]int `json:"by_status"`
}

func (a Agent) Stats() AgentStats {
	stats := AgentStats{ByStatus: map[domain.AgentStatus]int{}}
	for _, agent := range a.Store.Snapshot().Agents.Agents {
		stats.Total++
		stats.ByStatus[agent.Status]++
	}
	return stats
}

func sortAgents(m map[string]domain.Agent, keep func(domain.Agent) bool) []domain.Agent {
	out := make([]domain.Agent, 0, len(m))
	for _, agent := range m {
		if keep(agent) {
			out = append(out, agent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
