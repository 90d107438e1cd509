package state_test

import (
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"sync"
	"testing"
	"time"

	"swarmline/internal/action"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

func newTestStore() *state.Store {
	s := state.New()
	s.Logger = log.New(io.Discard, "", 0)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func mustDispatch(t *testing.T, s *state.Store, a action.Action) {
	t.Helper()
	if err := s.Dispatch(a); err != nil {
		t.Fatalf("dispatch %s: %v", a.Verb(), err)
	}
}

func taskUpsert(id, title string) action.TaskUpsert {
	return action.TaskUpsert{
		Meta: action.NewMeta("test", ""),
		Task: domain.Task{ID: id, Title: title},
	}
}

func TestDispatchUpdatesSnapshot(t *testing.T) {
	s := newTestStore()
	mustDispatch(t, s, taskUpsert("t-1", "first"))

	snap := s.Snapshot()
	got, ok := snap.Tasks.Tasks["t-1"]
	if !ok {
		t.Fatalf("task t-1 missing from snapshot")
	}
	if got.Status != domain.TaskPending || got.Priority != domain.PriorityMedium {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
}

func TestSnapshotStableAcrossDispatches(t *testing.T) {
	s := newTestStore()
	mustDispatch(t, s, taskUpsert("t-1", "first"))
	old := s.Snapshot()

	mustDispatch(t, s, taskUpsert("t-2", "second"))
	if _, ok := old.Tasks.Tasks["t-2"]; ok {
		t.Fatalf("old snapshot mutated by later dispatch")
	}
	if len(s.Snapshot().Tasks.Tasks) != 2 {
		t.Fatalf("new snapshot missing tasks")
	}
}

type badAction struct{ meta action.Meta }

func (a badAction) Verb() string          { return "noprefix" }
func (a badAction) Metadata() action.Meta { return a.meta }

func TestMalformedActionRejected(t *testing.T) {
	s := newTestStore()
	err := s.Dispatch(badAction{})
	if !errors.Is(err, state.ErrMalformedAction) {
		t.Fatalf("err = %v, want ErrMalformedAction", err)
	}
	if s.Snapshot().Version != 0 {
		t.Fatalf("malformed action mutated state")
	}
}

func TestFailedDispatchIsAtomic(t *testing.T) {
	s := newTestStore()
	notified := 0
	s.Subscribe(domain.DomainTasks, func(state.StateChange) { notified++ })

	err := s.Dispatch(action.TaskStatusSet{Meta: action.NewMeta("test", ""), TaskID: "missing", Status: domain.TaskCompleted})
	if err == nil {
		t.Fatalf("expected error for unknown task")
	}
	if s.Snapshot().Version != 0 {
		t.Fatalf("failed dispatch bumped version")
	}
	if len(s.Changes()) != 0 {
		t.Fatalf("failed dispatch appended change")
	}
	if notified != 0 {
		t.Fatalf("failed dispatch notified subscribers")
	}
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	s := newTestStore()
	var order []string
	s.Subscribe(domain.DomainTasks, func(state.StateChange) { order = append(order, "a") })
	s.Subscribe("", func(state.StateChange) { order = append(order, "b") })
	s.Subscribe(domain.DomainAgents, func(state.StateChange) { order = append(order, "never") })

	mustDispatch(t, s, taskUpsert("t-1", "first"))
	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Fatalf("order = %v", order)
	}
}

func TestSubscribeVerbFilterAndUnsubscribe(t *testing.T) {
	s := newTestStore()
	var verbs []string
	unsub := s.Subscribe(domain.DomainTasks, func(c state.StateChange) {
		verbs = append(verbs, c.Action.Verb())
	}, "tasks/status")

	mustDispatch(t, s, taskUpsert("t-1", "first"))
	mustDispatch(t, s, action.TaskStatusSet{Meta: action.NewMeta("test", ""), TaskID: "t-1", Status: domain.TaskInProgress})
	if !reflect.DeepEqual(verbs, []string{"tasks/status"}) {
		t.Fatalf("verbs = %v", verbs)
	}

	unsub()
	mustDispatch(t, s, action.TaskStatusSet{Meta: action.NewMeta("test", ""), TaskID: "t-1", Status: domain.TaskCompleted})
	if len(verbs) != 1 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestSubscriberPanicContained(t *testing.T) {
	s := newTestStore()
	ran := false
	s.Subscribe(domain.DomainTasks, func(state.StateChange) { panic("boom") })
	s.Subscribe(domain.DomainTasks, func(state.StateChange) { ran = true })

	mustDispatch(t, s, taskUpsert("t-1", "first"))
	if !ran {
		t.Fatalf("panicking subscriber blocked later subscriber")
	}
	if s.Snapshot().Version != 1 {
		t.Fatalf("panicking subscriber failed the dispatch")
	}
}

func TestReentrantDispatchRejected(t *testing.T) {
	s := newTestStore()
	var inner error
	s.Subscribe(domain.DomainTasks, func(state.StateChange) {
		inner = s.Dispatch(taskUpsert("t-2", "nested"))
	})

	mustDispatch(t, s, taskUpsert("t-1", "outer"))
	if !errors.Is(inner, state.ErrReentrantDispatch) {
		t.Fatalf("inner err = %v, want ErrReentrantDispatch", inner)
	}
	if _, ok := s.Snapshot().Tasks.Tasks["t-2"]; ok {
		t.Fatalf("reentrant dispatch applied")
	}
}

func TestConcurrentDispatchesSerializedAndReplayable(t *testing.T) {
	s := state.New()
	s.Logger = log.New(io.Discard, "", 0)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Dispatch(action.CounterAdd{Meta: action.NewMeta("test", ""), Name: "ops", Delta: 1}); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Metrics.Counters["ops"] != n {
		t.Fatalf("counter = %d, want %d (lost updates)", snap.Metrics.Counters["ops"], n)
	}
	if snap.Version != n {
		t.Fatalf("version = %d, want %d", snap.Version, n)
	}

	fresh := state.New()
	fresh.Logger = log.New(io.Discard, "", 0)
	if err := state.Replay(s.Changes(), fresh); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(fresh.Snapshot(), snap) {
		t.Fatalf("replayed state differs from original")
	}
}

func TestReplayReconstructsMixedDomains(t *testing.T) {
	s := newTestStore()
	mustDispatch(t, s, action.AgentRegister{Meta: action.NewMeta("test", ""), Agent: domain.Agent{ID: "a-1", Name: "worker"}})
	mustDispatch(t, s, taskUpsert("t-1", "first"))
	mustDispatch(t, s, action.TaskAssign{Meta: action.NewMeta("test", ""), TaskID: "t-1", AgentID: "a-1"})
	mustDispatch(t, s, action.TaskStatusSet{Meta: action.NewMeta("test", ""), TaskID: "t-1", Status: domain.TaskCompleted})
	mustDispatch(t, s, action.MemoryPut{Meta: action.NewMeta("test", ""), Entry: domain.MemoryEntry{Key: "k", Namespace: "ns", Value: "v"}})

	fresh := state.New()
	fresh.Logger = log.New(io.Discard, "", 0)
	if err := state.Replay(s.Changes(), fresh); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !reflect.DeepEqual(fresh.Snapshot(), s.Snapshot()) {
		t.Fatalf("replayed state differs from original")
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	s := newTestStore()
	mustDispatch(t, s, taskUpsert("t-1", "first"))
	first := s.Snapshot().Tasks.Tasks["t-1"].UpdatedAt

	// An upsert carrying an older updated_at must not move the clock back.
	stale := domain.Task{ID: "t-1", Title: "stale", UpdatedAt: first.Add(-time.Hour)}
	mustDispatch(t, s, action.TaskUpsert{Meta: action.NewMeta("test", ""), Task: stale})
	got := s.Snapshot().Tasks.Tasks["t-1"].UpdatedAt
	if got.Before(first) {
		t.Fatalf("updated_at moved backwards: %v -> %v", first, got)
	}
}

func TestPendingQueueTracksStatus(t *testing.T) {
	s := newTestStore()
	for i := 1; i <= 3; i++ {
		mustDispatch(t, s, taskUpsert(fmt.Sprintf("t-%d", i), fmt.Sprintf("task %d", i)))
	}
	mustDispatch(t, s, action.TaskStatusSet{Meta: action.NewMeta("test", ""), TaskID: "t-2", Status: domain.TaskInProgress})

	queue := s.Snapshot().Tasks.Queue
	if !reflect.DeepEqual(queue, []string{"t-1", "t-3"}) {
		t.Fatalf("queue = %v", queue)
	}
}

func TestChangeSinkReceivesChanges(t *testing.T) {
	s := newTestStore()
	sink := &memorySink{}
	s.Sink = sink
	mustDispatch(t, s, taskUpsert("t-1", "first"))
	if len(sink.changes) != 1 || sink.changes[0].Path != "tasks/t-1" {
		t.Fatalf("sink changes = %+v", sink.changes)
	}
}

type memorySink struct {
	changes []state.StateChange
}

func (m *memorySink) Append(c state.StateChange) error {
	m.changes = append(m.changes, c)
	return nil
}
