package conflict_test

import (
	"reflect"
	"testing"
	"time"

	"swarmline/internal/conflict"
	"swarmline/internal/domain"
)

var (
	checkpoint = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1         = checkpoint.Add(time.Hour)
	t2         = checkpoint.Add(2 * time.Hour)
)

func TestNoConflictWhenOnlyOneSideChanged(t *testing.T) {
	source := domain.Task{ID: "t-1", Status: domain.TaskCompleted, UpdatedAt: t2}
	other := domain.Task{ID: "t-1", Status: domain.TaskInProgress, UpdatedAt: checkpoint}

	if got := conflict.Detect(source, other, checkpoint); len(got) != 0 {
		t.Fatalf("conflicts = %+v, want none when only one side moved", got)
	}
}

func TestDetectFlagsDivergedFields(t *testing.T) {
	source := domain.Task{
		ID: "t-1", Title: "same", Status: domain.TaskCompleted,
		Priority: domain.PriorityHigh, UpdatedAt: t2,
	}
	other := domain.Task{
		ID: "t-1", Title: "same", Status: domain.TaskInProgress,
		Priority: domain.PriorityMedium, UpdatedAt: t1,
	}
	got := conflict.Detect(source, other, checkpoint)
	if len(got) != 2 {
		t.Fatalf("conflicts = %+v, want status+priority", got)
	}
	fields := map[string]conflict.Severity{}
	for _, c := range got {
		fields[c.Field] = c.Severity
	}
	if fields[conflict.FieldStatus] != conflict.SeverityHigh || fields[conflict.FieldPriority] != conflict.SeverityHigh {
		t.Fatalf("severities = %+v", fields)
	}
}

func TestDependencyOrderIsNotAConflict(t *testing.T) {
	source := domain.Task{ID: "t-1", Dependencies: []string{"a", "b"}, UpdatedAt: t2}
	other := domain.Task{ID: "t-1", Dependencies: []string{"b", "a"}, UpdatedAt: t1}
	if got := conflict.Detect(source, other, checkpoint); len(got) != 0 {
		t.Fatalf("conflicts = %+v, want none for reordered dependencies", got)
	}
}

// The spec scenario: external T1 newer with done/high vs internal
// in-progress/medium resolves to the external values under merge.
func TestMergeScenarioStatusAndPriority(t *testing.T) {
	external := domain.Task{
		ID: "t-1", Status: domain.TaskCompleted, Priority: domain.PriorityHigh, UpdatedAt: t2,
	}
	internal := domain.Task{
		ID: "t-1", Status: domain.TaskInProgress, Priority: domain.PriorityMedium, UpdatedAt: t1,
	}
	conflicts := conflict.Detect(external, internal, checkpoint)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(conflicts))
	}
	merged := conflict.Apply(internal, conflict.Resolve(conflicts, conflict.StrategyMerge))
	if merged.Status != domain.TaskCompleted || merged.Priority != domain.PriorityHigh {
		t.Fatalf("merged = %+v", merged)
	}
}

func TestMergeNeverDowngradesPriority(t *testing.T) {
	// The lower-priority side is newer, but priority keeps the higher value.
	source := domain.Task{ID: "t-1", Priority: domain.PriorityLow, UpdatedAt: t2}
	other := domain.Task{ID: "t-1", Priority: domain.PriorityCritical, UpdatedAt: t1}
	res := conflict.Resolve(conflict.Detect(source, other, checkpoint), conflict.StrategyMerge)
	if len(res) != 1 || res[0].Value != domain.PriorityCritical {
		t.Fatalf("resolutions = %+v", res)
	}
}

func TestMergeAssigneePrefersNonEmpty(t *testing.T) {
	source := domain.Task{ID: "t-1", AssignedTo: "", UpdatedAt: t2}
	other := domain.Task{ID: "t-1", AssignedTo: "agent-1", UpdatedAt: t1}
	res := conflict.Resolve(conflict.Detect(source, other, checkpoint), conflict.StrategyMerge)
	if len(res) != 1 || res[0].Value != "agent-1" {
		t.Fatalf("resolutions = %+v", res)
	}
}

func TestSourceWinsAndOtherWins(t *testing.T) {
	source := domain.Task{ID: "t-1", Title: "source title", UpdatedAt: t1}
	other := domain.Task{ID: "t-1", Title: "other title", UpdatedAt: t2}
	conflicts := conflict.Detect(source, other, checkpoint)

	if res := conflict.Resolve(conflicts, conflict.StrategySourceWins); res[0].Value != "source title" {
		t.Fatalf("source-wins picked %v", res[0].Value)
	}
	if res := conflict.Resolve(conflicts, conflict.StrategyOtherWins); res[0].Value != "other title" {
		t.Fatalf("other-wins picked %v", res[0].Value)
	}
}

// Resolution must be deterministic and order-independent: resolving (A,B)
// equals resolving (B,A) with sides swapped, including exact ties.
func TestResolveSymmetry(t *testing.T) {
	cases := []struct {
		name string
		a, b domain.Task
	}{
		{
			name: "newer side wins",
			a:    domain.Task{ID: "t-1", Title: "alpha", Status: domain.TaskCompleted, Priority: domain.PriorityHigh, UpdatedAt: t2},
			b:    domain.Task{ID: "t-1", Title: "beta", Status: domain.TaskBlocked, Priority: domain.PriorityLow, UpdatedAt: t1},
		},
		{
			name: "exact timestamp tie",
			a:    domain.Task{ID: "t-1", Title: "alpha", AssignedTo: "x", Progress: 40, UpdatedAt: t1},
			b:    domain.Task{ID: "t-1", Title: "beta", AssignedTo: "y", Progress: 70, UpdatedAt: t1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ab := conflict.Resolve(conflict.Detect(tc.a, tc.b, checkpoint), conflict.StrategyMerge)
			ba := conflict.Resolve(conflict.Detect(tc.b, tc.a, checkpoint), conflict.StrategyMerge)
			if len(ab) != len(ba) {
				t.Fatalf("conflict counts differ: %d vs %d", len(ab), len(ba))
			}
			byField := func(res []conflict.Resolution) map[string]any {
				m := map[string]any{}
				for _, r := range res {
					m[r.Field] = r.Value
				}
				return m
			}
			if !reflect.DeepEqual(byField(ab), byField(ba)) {
				t.Fatalf("asymmetric resolution:\n (a,b): %+v\n (b,a): %+v", byField(ab), byField(ba))
			}
			// Idempotence: resolving the same inputs again is identical.
			again := conflict.Resolve(conflict.Detect(tc.a, tc.b, checkpoint), conflict.StrategyMerge)
			if !reflect.DeepEqual(ab, again) {
				t.Fatalf("resolution not idempotent")
			}
		})
	}
}
