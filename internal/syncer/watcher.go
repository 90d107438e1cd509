package syncer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"swarmline/internal/action"
)

type watchState struct {
	fsw     *fsnotify.Watcher
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Watch starts the recursive filesystem watcher for the root. Event bursts
// debounce into a single sync round. Setup failure is not fatal: the engine
// degrades to manual-only triggering, logs the failure once, and records it
// in the health domain.
func (e *Engine) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		e.degrade(fmt.Errorf("create watcher: %w", err))
		return err
	}
	err = filepath.WalkDir(e.root.Path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != e.root.Path {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
	if err != nil {
		fsw.Close()
		e.degrade(fmt.Errorf("watch %s: %w", e.root.Path, err))
		return err
	}

	ws := &watchState{fsw: fsw, closeCh: make(chan struct{})}
	e.mu.Lock()
	e.watch = ws
	e.mu.Unlock()
	ws.wg.Add(1)
	go e.watchLoop(ws)
	return nil
}

// Close stops the watcher, if one is running.
func (e *Engine) Close() error {
	e.mu.Lock()
	ws := e.watch
	e.watch = nil
	e.mu.Unlock()
	if ws == nil {
		return nil
	}
	close(ws.closeCh)
	ws.wg.Wait()
	return ws.fsw.Close()
}

func (e *Engine) watchLoop(ws *watchState) {
	defer ws.wg.Done()

	debounce := time.NewTimer(e.root.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ws.closeCh:
			return
		case <-debounce.C:
			e.Trigger()
		case ev, ok := <-ws.fsw.Events:
			if !ok {
				return
			}
			if !e.relevant(ev) {
				continue
			}
			// New subdirectories need their own watch before the round runs.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = ws.fsw.Add(ev.Name)
					continue
				}
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(e.root.Debounce)
		case err, ok := <-ws.fsw.Errors:
			if !ok {
				return
			}
			e.logger.Printf("sync %s: watcher: %v", e.root.Name, err)
		}
	}
}

// relevant filters watcher noise: only task files and new directories can
// start a round.
func (e *Engine) relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if ev.Op.Has(fsnotify.Create) {
		return true
	}
	return strings.HasSuffix(base, ".json")
}

// degrade switches the engine to manual-only mode. Called at most once per
// engine since Watch is a setup-time operation.
func (e *Engine) degrade(err error) {
	e.mu.Lock()
	e.degraded = true
	e.mu.Unlock()
	e.logger.Printf("sync %s: watcher unavailable, manual sync only: %v", e.root.Name, err)
	health := action.HealthSet{
		Meta:      action.NewMeta(syncSource, "watcher setup failed"),
		Component: "watcher:" + e.root.Name,
		Healthy:   false,
		Detail:    err.Error(),
	}
	if derr := e.store.Dispatch(health); derr != nil {
		e.logger.Printf("sync %s: record degraded mode: %v", e.root.Name, derr)
	}
}
