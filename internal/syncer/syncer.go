// Package syncer reconciles the external file-backed task store with the
// internal task domain. A sync round is the only operation in the system
// that spans asynchronous I/O; at most one round runs per root at any time.
package syncer

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"swarmline/internal/action"
	"swarmline/internal/adapter"
	"swarmline/internal/conflict"
	"swarmline/internal/domain"
	"swarmline/internal/infer"
	"swarmline/internal/state"
	"swarmline/internal/taskfile"
)

// Direction controls which way a root synchronizes.
type Direction string

const (
	DirectionInward  Direction = "inward"
	DirectionOutward Direction = "outward"
	DirectionBoth    Direction = "bidirectional"
)

// ParseDirection validates a direction name, defaulting empty to
// bidirectional.
func ParseDirection(name string) (Direction, error) {
	switch Direction(name) {
	case "":
		return DirectionBoth, nil
	case DirectionInward, DirectionOutward, DirectionBoth:
		return Direction(name), nil
	}
	return "", fmt.Errorf("unknown sync direction %q", name)
}

// Root is one synchronization root: a directory of external task files.
type Root struct {
	Name        string
	Path        string
	Direction   Direction
	Strategy    conflict.Strategy
	AllowDelete bool
	Debounce    time.Duration
	OutFile     string
}

// Phase is where the engine currently is inside a round.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseLoading            Phase = "loading"
	PhaseDiffing            Phase = "diffing"
	PhaseResolvingConflicts Phase = "resolving_conflicts"
	PhaseApplying           Phase = "applying"
	PhaseFailed             Phase = "failed"
)

// Result reports one round. Skipped or failed entities always appear in
// Errors or Warnings; nothing is silently discarded.
type Result struct {
	Success     bool                `json:"success"`
	SyncedTasks int                 `json:"synced_tasks"`
	Conflicts   []conflict.Conflict `json:"conflicts,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// Status is a point-in-time view of the engine for status displays.
type Status struct {
	Root     string    `json:"root"`
	Phase    Phase     `json:"phase"`
	LastSync time.Time `json:"last_sync"`
	Degraded bool      `json:"degraded"`
	Pending  bool      `json:"pending"`
}

// Engine runs sync rounds for a single root.
type Engine struct {
	root   Root
	tasks  adapter.Task
	store  *state.Store
	policy infer.Policy
	logger *log.Logger

	roundMu sync.Mutex // serializes rounds

	mu          sync.Mutex
	phase       Phase
	lastSync    time.Time
	checkpoints map[string]time.Time
	triggered   bool
	pending     bool
	degraded    bool

	watch *watchState
}

const syncSource = "syncer"

// New builds an engine for one root. The policy may be nil, in which case
// no phase hints are inferred.
func New(s *state.Store, root Root, policy infer.Policy, logger *log.Logger) *Engine {
	if root.Direction == "" {
		root.Direction = DirectionBoth
	}
	if root.Strategy == "" {
		root.Strategy = conflict.StrategyMerge
	}
	if root.Debounce <= 0 {
		root.Debounce = 250 * time.Millisecond
	}
	if root.OutFile == "" {
		root.OutFile = "tasks.json"
	}
	if root.Name == "" {
		root.Name = filepath.Base(root.Path)
	}
	if policy == nil {
		policy = infer.None{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		root:        root,
		tasks:       adapter.Task{Store: s, Source: syncSource},
		store:       s,
		policy:      policy,
		logger:      logger,
		phase:       PhaseIdle,
		checkpoints: map[string]time.Time{},
	}
}

// Status reports the engine's current phase and sync bookkeeping.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Root:     e.root.Name,
		Phase:    e.phase,
		LastSync: e.lastSync,
		Degraded: e.degraded,
		Pending:  e.pending,
	}
}

// Sync runs one inward round, waiting for any active round to finish first.
func (e *Engine) Sync() Result {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	return e.runInward()
}

// SyncOut serializes the internal task domain into the root's out file.
func (e *Engine) SyncOut() Result {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	return e.runOutward()
}

// Trigger requests an asynchronous inward round. A trigger arriving while a
// round is active coalesces into a single follow-up round.
func (e *Engine) Trigger() {
	e.mu.Lock()
	if e.triggered {
		e.pending = true
		e.mu.Unlock()
		return
	}
	e.triggered = true
	e.mu.Unlock()
	go e.triggerLoop()
}

func (e *Engine) triggerLoop() {
	for {
		res := e.Sync()
		if !res.Success {
			e.logger.Printf("sync %s: round failed: %s", e.root.Name, strings.Join(res.Errors, "; "))
		}
		e.mu.Lock()
		if !e.pending {
			e.triggered = false
			e.mu.Unlock()
			return
		}
		e.pending = false
		e.mu.Unlock()
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) fail(errs []string, warnings []string) Result {
	e.setPhase(PhaseFailed)
	return Result{Success: false, Errors: errs, Warnings: warnings}
}

// runInward executes Loading → Diffing → ResolvingConflicts → Applying.
// Any I/O failure aborts the round before a single dispatch, so the store
// is never left partially applied by a failed round.
func (e *Engine) runInward() Result {
	if e.root.Direction == DirectionOutward {
		return Result{Success: false, Errors: []string{fmt.Sprintf("root %s is outward-only", e.root.Name)}}
	}
	defer e.setPhase(PhaseIdle)

	e.setPhase(PhaseLoading)
	external, warnings, err := e.loadExternal()
	if err != nil {
		return e.fail([]string{err.Error()}, warnings)
	}

	e.setPhase(PhaseDiffing)
	snap := e.store.Snapshot()
	internal := snap.Tasks.Tasks
	toCreate, toUpdate, toDelete := e.diff(external, internal)

	e.setPhase(PhaseResolvingConflicts)
	var allConflicts []conflict.Conflict
	updates := make(map[string]domain.Task, len(toUpdate))
	for _, id := range toUpdate {
		ext := external[id]
		cur := internal[id]
		checkpoint := e.checkpointFor(id)
		conflicts := conflict.Detect(ext, cur, checkpoint)
		switch {
		case len(conflicts) > 0:
			resolutions := conflict.Resolve(conflicts, e.root.Strategy)
			updates[id] = conflict.Apply(ext, resolutions)
			allConflicts = append(allConflicts, conflicts...)
		case ext.UpdatedAt.After(checkpoint):
			updates[id] = ext
		default:
			// Only the internal side moved (or neither); inward has
			// nothing to apply for this id.
		}
	}

	e.setPhase(PhaseApplying)
	var errs []string
	synced := 0
	for _, id := range orderByDependencies(toCreate, external) {
		if err := e.tasks.Upsert(external[id], "sync create"); err != nil {
			errs = append(errs, fmt.Sprintf("create %s: %v", id, err))
			continue
		}
		synced++
	}
	for _, id := range sortedKeys(updates) {
		if err := e.tasks.Upsert(updates[id], "sync update"); err != nil {
			errs = append(errs, fmt.Sprintf("update %s: %v", id, err))
			continue
		}
		synced++
	}
	for _, id := range toDelete {
		if err := e.tasks.Delete(id, "sync delete"); err != nil {
			errs = append(errs, fmt.Sprintf("delete %s: %v", id, err))
			continue
		}
		synced++
	}

	if len(errs) > 0 {
		return e.fail(errs, warnings)
	}

	// All operations succeeded; advance the checkpoints and record the
	// round in the orchestration domain. Only reconciled ids move: a task
	// whose internal edit was not applied keeps its old checkpoint so the
	// edit still counts as a divergence next round.
	now := e.store.Now().UTC()
	e.mu.Lock()
	for _, id := range toCreate {
		e.checkpoints[id] = laterOf(now, external[id].UpdatedAt)
	}
	for id, t := range updates {
		e.checkpoints[id] = laterOf(now, t.UpdatedAt)
	}
	for _, id := range toDelete {
		delete(e.checkpoints, id)
	}
	e.lastSync = now
	e.mu.Unlock()
	e.record(DirectionInward, synced, len(allConflicts), now)

	return Result{
		Success:     true,
		SyncedTasks: synced,
		Conflicts:   allConflicts,
		Warnings:    warnings,
	}
}

func (e *Engine) runOutward() Result {
	if e.root.Direction == DirectionInward {
		return Result{Success: false, Errors: []string{fmt.Sprintf("root %s is inward-only", e.root.Name)}}
	}
	e.setPhase(PhaseApplying)
	defer e.setPhase(PhaseIdle)

	tasks := e.tasks.List()
	doc := taskfile.Document{
		Tasks:        make([]taskfile.ExternalTask, 0, len(tasks)),
		LastModified: e.store.Now().UTC(),
	}
	for _, t := range tasks {
		doc.Tasks = append(doc.Tasks, taskfile.FromInternal(t))
	}
	path := filepath.Join(e.root.Path, e.root.OutFile)
	if err := taskfile.Save(path, doc); err != nil {
		return e.fail([]string{err.Error()}, nil)
	}

	now := e.store.Now().UTC()
	e.mu.Lock()
	for _, t := range tasks {
		e.checkpoints[t.ID] = laterOf(now, t.UpdatedAt)
	}
	e.lastSync = now
	e.mu.Unlock()
	e.record(DirectionOutward, len(tasks), 0, now)

	return Result{Success: true, SyncedTasks: len(tasks)}
}

// loadExternal parses every task file under the root. A malformed file is a
// warning and is excluded; an unreadable root fails the round.
func (e *Engine) loadExternal() (map[string]domain.Task, []string, error) {
	var paths []string
	err := filepath.WalkDir(e.root.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != e.root.Path {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan sync root %s: %w", e.root.Path, err)
	}
	sort.Strings(paths)

	external := map[string]domain.Task{}
	var warnings []string
	for _, p := range paths {
		doc, err := taskfile.Load(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("skipping %s: %v", p, err))
			continue
		}
		for _, ext := range doc.Tasks {
			if ext.ID == "" || ext.Title == "" {
				warnings = append(warnings, fmt.Sprintf("%s: task missing id or title, skipped", p))
				continue
			}
			task, convWarnings := taskfile.ToInternal(ext)
			warnings = append(warnings, convWarnings...)
			if prev, dup := external[task.ID]; dup {
				warnings = append(warnings, fmt.Sprintf("duplicate task id %s, later file wins", task.ID))
				if prev.UpdatedAt.After(task.UpdatedAt) {
					continue
				}
			}
			if task.Phase == "" {
				task.Phase = e.policy.InferPhase(task.Title, task.Description)
			}
			external[task.ID] = task
		}
	}
	return external, warnings, nil
}

// diff computes the three disjoint id sets of a round. toDelete only covers
// ids this engine previously synced, so internal-only tasks that never came
// from the external store are left alone.
func (e *Engine) diff(external map[string]domain.Task, internal map[string]domain.Task) (toCreate, toUpdate, toDelete []string) {
	for id := range external {
		if _, ok := internal[id]; ok {
			toUpdate = append(toUpdate, id)
		} else {
			toCreate = append(toCreate, id)
		}
	}
	if e.root.AllowDelete {
		e.mu.Lock()
		for id := range internal {
			if _, ok := external[id]; ok {
				continue
			}
			if _, synced := e.checkpoints[id]; synced {
				toDelete = append(toDelete, id)
			}
		}
		e.mu.Unlock()
	}
	sort.Strings(toCreate)
	sort.Strings(toUpdate)
	sort.Strings(toDelete)
	return toCreate, toUpdate, toDelete
}

func (e *Engine) checkpointFor(id string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoints[id]
}

// record publishes the finished round into the orchestration domain and
// bumps the sync counters. Failures here are logged, never fatal.
func (e *Engine) record(direction Direction, synced, conflicts int, completedAt time.Time) {
	rec := action.SyncRecorded{
		Meta:        action.NewMeta(syncSource, ""),
		Root:        e.root.Name,
		Direction:   string(direction),
		SyncedTasks: synced,
		Conflicts:   conflicts,
		CompletedAt: completedAt,
	}
	if err := e.store.Dispatch(rec); err != nil {
		e.logger.Printf("sync %s: record round: %v", e.root.Name, err)
	}
	counter := action.CounterAdd{Meta: action.NewMeta(syncSource, ""), Name: "sync.rounds", Delta: 1}
	if err := e.store.Dispatch(counter); err != nil {
		e.logger.Printf("sync %s: bump counter: %v", e.root.Name, err)
	}
}

// orderByDependencies sorts create ids so that tasks appear after any of
// their dependencies that are created in the same round. Cycles fall back
// to id order for the remainder.
func orderByDependencies(ids []string, tasks map[string]domain.Task) []string {
	inRound := make(map[string]bool, len(ids))
	for _, id := range ids {
		inRound[id] = true
	}
	placed := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	remaining := append([]string(nil), ids...)
	sort.Strings(remaining)
	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, id := range remaining {
			ready := true
			for _, dep := range tasks[id].Dependencies {
				if inRound[dep] && !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				out = append(out, id)
				placed[id] = true
				progressed = true
			} else {
				next = append(next, id)
			}
		}
		remaining = next
		if !progressed {
			out = append(out, remaining...)
			break
		}
	}
	return out
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func sortedKeys(m map[string]domain.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
