package adapter

import (
	"sort"
	"time"

	"swarmline/internal/action"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

// Memory is the typed façade over the memory domain.
type Memory struct {
	Store  *state.Store
	Source string
}

func (a Memory) Put(namespace, key string, value any, ttl time.Duration, reason string) error {
	entry := domain.MemoryEntry{Key: key, Namespace: namespace, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = a.Store.Now().UTC().Add(ttl)
	}
	return a.Store.Dispatch(action.MemoryPut{Meta: meta(a.Source, reason), Entry: entry})
}

func (a Memory) Delete(namespace, key, reason string) error {
	return a.Store.Dispatch(action.MemoryDelete{Meta: meta(a.Source, reason), Namespace: namespace, Key: key})
}

// Get returns a live entry. Expired entries read as absent.
func (a Memory) Get(namespace, key string) (domain.MemoryEntry, error) {
	entry, ok := a.Store.Snapshot().Memory.Entries[namespace+"/"+key]
	if !ok || entry.Expired(a.Store.Now()) {
		return domain.MemoryEntry{}, ErrNotFound
	}
	return entry, nil
}

// List returns live entries in a namespace, ordered by key.
func (a Memory) List(namespace string) []domain.MemoryEntry {
	now := a.Store.Now()
	m := a.Store.Snapshot().Memory.Entries
	out := make([]domain.MemoryEntry, 0, len(m))
	for _, entry := range m {
		if entry.Namespace != namespace || entry.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Namespaces returns namespace names with live entry counts.
func (a Memory) Namespaces() map[string]int {
	snap := a.Store.Snapshot()
	out := make(map[string]int, len(snap.Memory.Namespaces))
	for ns, n := range snap.Memory.Namespaces {
		out[ns] = n
	}
	return out
}

// SweepExpired deletes every expired entry and reports how many were
// removed. Each removal is its own dispatch; there is no multi-entity
// atomicity.
func (a Memory) SweepExpired() (int, error) {
	now := a.Store.Now()
	snap := a.Store.Snapshot()
	var expired []domain.MemoryEntry
	for _, entry := range snap.Memory.Entries {
		if entry.Expired(now) {
			expired = append(expired, entry)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].MemoryKey() < expired[j].MemoryKey() })
	for _, entry := range expired {
		if err := a.Delete(entry.Namespace, entry.Key, "ttl expired"); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
