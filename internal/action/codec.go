package action

import (
	"encoding/json"
	"fmt"
)

// envelope wraps an action for persistence: the verb tag selects the
// concrete variant on decode.
type envelope struct {
	Verb    string          `json:"verb"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes an action with its verb tag for the changelog.
func Encode(a Action) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode action %s: %w", a.Verb(), err)
	}
	return json.Marshal(envelope{Verb: a.Verb(), Payload: payload})
}

// Decode reconstructs a persisted action from its envelope form.
func Decode(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action envelope: %w", err)
	}
	decode := func(dst Action) (Action, error) {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return nil, fmt.Errorf("decode action %s: %w", env.Verb, err)
		}
		return dst, nil
	}
	switch env.Verb {
	case "tasks/upsert":
		return deref(decode(&TaskUpsert{}))
	case "tasks/status":
		return deref(decode(&TaskStatusSet{}))
	case "tasks/assign":
		return deref(decode(&TaskAssign{}))
	case "tasks/progress":
		return deref(decode(&TaskProgressSet{}))
	case "tasks/delete":
		return deref(decode(&TaskDelete{}))
	case "agents/register":
		return deref(decode(&AgentRegister{}))
	case "agents/status":
		return deref(decode(&AgentStatusSet{}))
	case "agents/remove":
		return deref(decode(&AgentRemove{}))
	case "swarm/objective":
		return deref(decode(&ObjectiveSet{}))
	case "swarm/objective_status":
		return deref(decode(&ObjectiveStatusSet{}))
	case "orchestration/sync":
		return deref(decode(&SyncRecorded{}))
	case "memory/put":
		return deref(decode(&MemoryPut{}))
	case "memory/delete":
		return deref(decode(&MemoryDelete{}))
	case "sessions/start":
		return deref(decode(&SessionStart{}))
	case "sessions/end":
		return deref(decode(&SessionEnd{}))
	case "health/set":
		return deref(decode(&HealthSet{}))
	case "metrics/add":
		return deref(decode(&CounterAdd{}))
	case "config/set":
		return deref(decode(&ConfigSet{}))
	default:
		return nil, fmt.Errorf("unknown action verb %q", env.Verb)
	}
}

// deref unwraps the pointer produced during decoding so callers always see
// the value form used at dispatch time.
func deref(a Action, err error) (Action, error) {
	if err != nil {
		return nil, err
	}
	switch v := a.(type) {
	case *TaskUpsert:
		return *v, nil
	case *TaskStatusSet:
		return *v, nil
	case *TaskAssign:
		return *v, nil
	case *TaskProgressSet:
		return *v, nil
	case *TaskDelete:
		return *v, nil
	case *AgentRegister:
		return *v, nil
	case *AgentStatusSet:
		return *v, nil
	case *AgentRemove:
		return *v, nil
	case *ObjectiveSet:
		return *v, nil
	case *ObjectiveStatusSet:
		return *v, nil
	case *SyncRecorded:
		return *v, nil
	case *MemoryPut:
		return *v, nil
	case *MemoryDelete:
		return *v, nil
	case *SessionStart:
		return *v, nil
	case *SessionEnd:
		return *v, nil
	case *HealthSet:
		return *v, nil
	case *CounterAdd:
		return *v, nil
	case *ConfigSet:
		return *v, nil
	default:
		return a, nil
	}
}
