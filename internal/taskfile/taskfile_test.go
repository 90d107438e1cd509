package taskfile_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"swarmline/internal/domain"
	"swarmline/internal/taskfile"
)

func TestStatusAndPriorityRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, status := range domain.TaskStatuses() {
		for _, priority := range []domain.Priority{
			domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityCritical,
		} {
			task := domain.Task{
				ID: "t-1", Title: "x", Status: status, Priority: priority,
				CreatedAt: now, UpdatedAt: now,
			}
			back, warnings := taskfile.ToInternal(taskfile.FromInternal(task))
			if len(warnings) != 0 {
				t.Fatalf("%s/%s: warnings %v", status, priority, warnings)
			}
			if back.Status != status || back.Priority != priority {
				t.Fatalf("%s/%s came back as %s/%s", status, priority, back.Status, back.Priority)
			}
		}
	}
}

func TestRoundTripPreservesTask(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	task := domain.Task{
		ID: "t-1", Title: "build parser", Description: "long form",
		Status: domain.TaskInProgress, Priority: domain.PriorityHigh,
		Dependencies: []string{"t-0"}, AssignedTo: "agent-1",
		Phase: "implementation", Progress: 40, Estimate: "2d",
		Subtasks:  []domain.Subtask{{ID: "s-1", Title: "lexer", Status: domain.TaskCompleted}},
		CreatedAt: now, UpdatedAt: now.Add(time.Hour),
	}
	back, warnings := taskfile.ToInternal(taskfile.FromInternal(task))
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	if !reflect.DeepEqual(task, back) {
		t.Fatalf("round trip changed task:\n before %+v\n after  %+v", task, back)
	}
}

func TestUnknownStatusFallsBackToPending(t *testing.T) {
	ext := taskfile.ExternalTask{ID: "t-1", Title: "x", Status: "on-fire", Priority: "extreme"}
	task, warnings := taskfile.ToInternal(ext)
	if task.Status != domain.TaskPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %s, want medium", task.Priority)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want one per unknown value", warnings)
	}
	for _, w := range warnings {
		if !strings.Contains(w, "t-1") {
			t.Fatalf("warning does not name the task: %q", w)
		}
	}
}

func TestUnknownFieldsSurviveSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	raw := `{
  "tasks": [
    {
      "id": "t-1",
      "title": "keep my extras",
      "status": "todo",
      "createdAt": "2025-03-01T12:00:00Z",
      "updatedAt": "2025-03-01T12:00:00Z",
      "editorHints": {"column": 3},
      "customTag": "kanban"
    }
  ],
  "version": 1,
  "lastModified": "2025-03-01T12:00:00Z"
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := taskfile.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Tasks) != 1 {
		t.Fatalf("tasks = %d", len(doc.Tasks))
	}
	if _, ok := doc.Tasks[0].Extra["editorHints"]; !ok {
		t.Fatalf("extra fields dropped on load: %+v", doc.Tasks[0].Extra)
	}

	if err := taskfile.Save(path, doc); err != nil {
		t.Fatal(err)
	}
	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var shape struct {
		Tasks []map[string]json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(written, &shape); err != nil {
		t.Fatal(err)
	}
	if _, ok := shape.Tasks[0]["editorHints"]; !ok {
		t.Fatalf("extra fields dropped on save: %s", written)
	}
	if _, ok := shape.Tasks[0]["customTag"]; !ok {
		t.Fatalf("extra fields dropped on save: %s", written)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	doc := taskfile.Document{
		Tasks:        []taskfile.ExternalTask{taskfile.FromInternal(domain.Task{ID: "t-1", Title: "x", Status: domain.TaskPending, Priority: domain.PriorityLow})},
		LastModified: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := taskfile.Save(path, doc); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tasks.json" {
		t.Fatalf("directory contents: %v", entries)
	}
	loaded, err := taskfile.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != taskfile.FormatVersion || len(loaded.Tasks) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := taskfile.Load(path); err == nil {
		t.Fatal("malformed file parsed without error")
	}
}
