// Package adapter provides the typed domain façades over the state store.
// Adapters hold only the store reference: reads go through a fresh snapshot,
// every mutation builds exactly one action and dispatches it.
package adapter

import (
	"errors"

	"swarmline/internal/action"
	"swarmline/internal/state"
)

var ErrNotFound = errors.New("not found")

// Adapters bundles the four domain façades sharing one store and source tag.
type Adapters struct {
	Task   Task
	Agent  Agent
	Swarm  Swarm
	Memory Memory
}

// New builds all adapters against one store. The source tag is stamped into
// every action's metadata so the change log records which producer mutated.
func New(s *state.Store, source string) Adapters {
	return Adapters{
		Task:   Task{Store: s, Source: source},
		Agent:  Agent{Store: s, Source: source},
		Swarm:  Swarm{Store: s, Source: source},
		Memory: Memory{Store: s, Source: source},
	}
}

func meta(source, reason string) action.Meta {
	return action.NewMeta(source, reason)
}
