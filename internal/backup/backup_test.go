package backup_test

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"swarmline/internal/adapter"
	"swarmline/internal/backup"
	"swarmline/internal/domain"
	"swarmline/internal/state"
)

func newTaskAdapter(t *testing.T) adapter.Task {
	t.Helper()
	s := state.New()
	s.Logger = log.New(io.Discard, "", 0)
	return adapter.Task{Store: s, Source: "test"}
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	src := newTaskAdapter(t)
	seed := []domain.Task{
		{ID: "t-1", Title: "first", Status: domain.TaskCompleted, Priority: domain.PriorityHigh},
		{ID: "t-2", Title: "second", Dependencies: []string{"t-1"}},
	}
	for _, task := range seed {
		if err := src.Upsert(task, ""); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), "backup.json")
	n, err := backup.Create(path, src, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("backed up %d tasks, want 2", n)
	}

	dst := newTaskAdapter(t)
	restored, err := backup.Restore(path, dst)
	if err != nil {
		t.Fatal(err)
	}
	if restored != 2 {
		t.Fatalf("restored %d tasks, want 2", restored)
	}
	got, err := dst.ByID("t-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskCompleted || got.Priority != domain.PriorityHigh {
		t.Fatalf("restored task = %+v", got)
	}
}

func TestRestoreRejectsInvalidShapes(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"not-json":        "{broken",
		"missing-version": `{"tasks": []}`,
		"missing-tasks":   `{"version": 1}`,
		"tasks-not-array": `{"version": 1, "tasks": {"t-1": {}}}`,
		"bad-version":     `{"version": "one", "tasks": []}`,
	}
	dst := newTaskAdapter(t)
	for name, content := range cases {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := backup.Restore(path, dst); !errors.Is(err, backup.ErrInvalidFormat) {
			t.Errorf("%s: err = %v, want ErrInvalidFormat", name, err)
		}
	}
	if got := dst.List(); len(got) != 0 {
		t.Fatalf("invalid backups dispatched tasks: %+v", got)
	}
}

func TestCreateWritesEmptySnapshot(t *testing.T) {
	src := newTaskAdapter(t)
	path := filepath.Join(t.TempDir(), "empty.json")
	if _, err := backup.Create(path, src, time.Now()); err != nil {
		t.Fatal(err)
	}
	dst := newTaskAdapter(t)
	n, err := backup.Restore(path, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("restored %d from empty backup", n)
	}
}
