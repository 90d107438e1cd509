package adapter_test

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"swarmline/internal/adapter"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

func newTestAdapters(t *testing.T) (adapter.Adapters, *state.Store) {
	t.Helper()
	s := state.New()
	s.Logger = log.New(io.Discard, "", 0)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return adapter.New(s, "test"), s
}

func TestNextPendingHonorsDependenciesAndPriority(t *testing.T) {
	ads, _ := newTestAdapters(t)

	if err := ads.Task.Upsert(domain.Task{ID: "dep", Title: "dependency"}, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Task.Upsert(domain.Task{
		ID: "blocked-high", Title: "urgent but blocked",
		Priority: domain.PriorityCritical, Dependencies: []string{"dep"},
	}, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Task.Upsert(domain.Task{ID: "free-low", Title: "free", Priority: domain.PriorityLow}, ""); err != nil {
		t.Fatal(err)
	}

	// dep itself is the runnable candidate with the highest free priority.
	next, ok := ads.Task.NextPending()
	if !ok || next.ID != "dep" {
		t.Fatalf("next = %+v, want dep", next)
	}

	if err := ads.Task.SetStatus("dep", domain.TaskCompleted, ""); err != nil {
		t.Fatal(err)
	}
	next, ok = ads.Task.NextPending()
	if !ok || next.ID != "blocked-high" {
		t.Fatalf("next = %+v, want blocked-high once dependency completed", next)
	}
}

func TestNextPendingTieBreaksOnCreation(t *testing.T) {
	ads, _ := newTestAdapters(t)
	if err := ads.Task.Upsert(domain.Task{ID: "older", Title: "a", Priority: domain.PriorityHigh}, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Task.Upsert(domain.Task{ID: "newer", Title: "b", Priority: domain.PriorityHigh}, ""); err != nil {
		t.Fatal(err)
	}
	next, ok := ads.Task.NextPending()
	if !ok || next.ID != "older" {
		t.Fatalf("next = %+v, want older", next)
	}
}

func TestAvailableAgentsCapabilitySuperset(t *testing.T) {
	ads, _ := newTestAdapters(t)
	agents := []domain.Agent{
		{ID: "a-1", Name: "coder", Capabilities: []string{"code", "test"}},
		{ID: "a-2", Name: "tester", Capabilities: []string{"test"}},
		{ID: "a-3", Name: "busy", Capabilities: []string{"code", "test"}},
	}
	for _, agent := range agents {
		if err := ads.Agent.Register(agent, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := ads.Agent.SetStatus("a-3", domain.AgentBusy, "t-1", ""); err != nil {
		t.Fatal(err)
	}

	got := ads.Agent.Available("code", "test")
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Fatalf("available = %+v, want only a-1", got)
	}
	// No requested capabilities: every idle agent qualifies.
	if got := ads.Agent.Available(); len(got) != 2 {
		t.Fatalf("available (no caps) = %d agents, want 2", len(got))
	}
}

func TestSwarmProgressCrossDomain(t *testing.T) {
	ads, _ := newTestAdapters(t)
	for _, task := range []domain.Task{
		{ID: "t-1", Title: "one", Status: domain.TaskCompleted},
		{ID: "t-2", Title: "two", Status: domain.TaskInProgress},
		{ID: "t-3", Title: "three"},
	} {
		if err := ads.Task.Upsert(task, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := ads.Swarm.SetObjective(domain.Objective{
		ID: "obj-1", Goal: "ship it", TaskIDs: []string{"t-1", "t-2", "t-3"},
	}, ""); err != nil {
		t.Fatal(err)
	}

	p, err := ads.Swarm.Progress("obj-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalTasks != 3 || p.Completed != 1 || p.InProgress != 1 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestMemoryTTL(t *testing.T) {
	ads, s := newTestAdapters(t)
	if err := ads.Memory.Put("ns", "short", "v", time.Second, ""); err != nil {
		t.Fatal(err)
	}
	if err := ads.Memory.Put("ns", "long", "v", time.Hour, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := ads.Memory.Get("ns", "short"); err != nil {
		t.Fatalf("fresh entry should be readable: %v", err)
	}

	// Jump the clock past the short TTL.
	expireAt := s.Now().Add(time.Minute)
	s.Now = func() time.Time { return expireAt }

	if _, err := ads.Memory.Get("ns", "short"); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("expired entry readable: %v", err)
	}
	swept, err := ads.Memory.SweepExpired()
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if entries := ads.Memory.List("ns"); len(entries) != 1 || entries[0].Key != "long" {
		t.Fatalf("entries after sweep = %+v", entries)
	}
}

func TestAdaptersDoNotCacheEntities(t *testing.T) {
	ads, _ := newTestAdapters(t)
	if err := ads.Task.Upsert(domain.Task{ID: "t-1", Title: "first"}, ""); err != nil {
		t.Fatal(err)
	}
	before, err := ads.Task.ByID("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := ads.Task.SetStatus("t-1", domain.TaskCompleted, ""); err != nil {
		t.Fatal(err)
	}
	after, err := ads.Task.ByID("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if before.Status == after.Status {
		t.Fatalf("adapter returned stale entity")
	}
}
