// Package backup writes and restores point-in-time snapshots of the task
// domain as standalone JSON files.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"swarmline/internal/adapter"
	"swarmline/internal/domain"
)

// ErrInvalidFormat rejects any file that is not a backup this tool wrote.
var ErrInvalidFormat = errors.New("invalid backup format")

// FormatVersion is written on every backup.
const FormatVersion = 1

// Snapshot is the backup file shape.
type Snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
	Tasks     []domain.Task  `json:"tasks"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Create writes every task to path atomically and reports how many were
// backed up.
func Create(path string, tasks adapter.Task, now time.Time) (int, error) {
	snap := Snapshot{
		Timestamp: now.UTC(),
		Version:   FormatVersion,
		Tasks:     tasks.List(),
		Metadata:  map[string]any{"task_count": len(tasks.List())},
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode backup: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp backup: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace backup: %w", err)
	}
	return len(snap.Tasks), nil
}

// Restore validates the backup shape and dispatches one upsert per task.
// Version must be present and the tasks field must be an array; anything
// else is rejected with ErrInvalidFormat before a single dispatch.
func Restore(path string, tasks adapter.Task) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read backup: %w", err)
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	rawVersion, ok := shape["version"]
	if !ok {
		return 0, fmt.Errorf("%w: missing version", ErrInvalidFormat)
	}
	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil || version < 1 {
		return 0, fmt.Errorf("%w: bad version %s", ErrInvalidFormat, rawVersion)
	}
	rawTasks, ok := shape["tasks"]
	if !ok {
		return 0, fmt.Errorf("%w: missing tasks", ErrInvalidFormat)
	}
	var restored []domain.Task
	if err := json.Unmarshal(rawTasks, &restored); err != nil {
		return 0, fmt.Errorf("%w: tasks is not an array of tasks: %v", ErrInvalidFormat, err)
	}

	count := 0
	for _, t := range restored {
		if err := tasks.Upsert(t, "backup restore"); err != nil {
			return count, fmt.Errorf("restore task %s: %w", t.ID, err)
		}
		count++
	}
	return count, nil
}
