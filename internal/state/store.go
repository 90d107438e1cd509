package state

import (
	"errors"
	"log"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"swarmline/internal/action"
	"swarmline/internal/domain"
)

var (
	// ErrMalformedAction marks a programming error: an action without a
	// valid "<domain>/" verb prefix.
	ErrMalformedAction = errors.New("malformed action: missing domain prefix")
	// ErrReentrantDispatch marks a dispatch issued from inside a subscriber
	// callback of the same store.
	ErrReentrantDispatch = errors.New("reentrant dispatch from subscriber callback")
)

// Store owns the authoritative UnifiedState. Dispatches are serialized: a
// dispatch runs mutate + log + notify to completion before the next one is
// accepted. Snapshot never blocks behind an in-flight dispatch.
type Store struct {
	// Now is injectable for tests.
	Now    func() time.Time
	Logger *log.Logger
	Sink   ChangeSink

	mu      sync.Mutex
	current atomic.Pointer[UnifiedState]
	changes []StateChange

	// ownerGID is the goroutine currently inside Dispatch, used to reject
	// reentrant dispatch from subscriber callbacks.
	ownerGID atomic.Int64

	subMu  sync.Mutex
	subs   []subscriber
	nextID int64
}

// New constructs an empty store. The instance is passed explicitly to every
// adapter and engine; there is no ambient global.
func New() *Store {
	s := &Store{Now: time.Now, Logger: log.Default()}
	s.current.Store(newUnifiedState())
	s.ownerGID.Store(-1)
	return s
}

// Snapshot returns the current state tree. The returned value is stable and
// must be treated as read-only; all mutation goes through Dispatch.
func (s *Store) Snapshot() *UnifiedState {
	return s.current.Load()
}

// Changes returns a copy of the StateChange log, in dispatch order.
func (s *Store) Changes() []StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StateChange, len(s.changes))
	copy(out, s.changes)
	return out
}

// Dispatch applies one action. On success exactly the sub-tree named by the
// action's domain has changed, version metadata is bumped, one StateChange
// is appended, and matching subscribers ran in registration order. On error
// nothing changed and nothing was notified.
func (s *Store) Dispatch(a action.Action) error {
	dom := action.Domain(a)
	if !validDomain(dom) {
		return ErrMalformedAction
	}
	gid := currentGID()
	if s.ownerGID.Load() == gid {
		return ErrReentrantDispatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerGID.Store(gid)
	defer s.ownerGID.Store(-1)

	now := s.Now().UTC()
	cur := s.current.Load()
	next := *cur
	change, err := apply(&next, a, now, s.logger())
	if err != nil {
		return err
	}
	next.Version = cur.Version + 1
	next.LastUpdated = now

	change.ID = uuid.New().String()
	change.Timestamp = now
	change.Action = a

	s.current.Store(&next)
	s.changes = append(s.changes, change)
	if s.Sink != nil {
		if err := s.Sink.Append(change); err != nil {
			s.logger().Printf("state: change sink append failed: %v", err)
		}
	}
	s.notify(dom, change)
	return nil
}

func (s *Store) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func validDomain(dom string) bool {
	for _, d := range domain.Domains() {
		if d == dom {
			return true
		}
	}
	return false
}

type subscriber struct {
	id     int64
	domain string
	verbs  map[string]struct{}
	fn     func(StateChange)
}

// Subscribe registers a callback for successful dispatches. An empty domain
// matches every domain; verbs, when given, narrow to specific action verbs.
// Callbacks run synchronously inside Dispatch and must not dispatch again.
// The returned function removes the subscription.
func (s *Store) Subscribe(dom string, fn func(StateChange), verbs ...string) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	sub := subscriber{id: s.nextID, domain: dom, fn: fn}
	if len(verbs) > 0 {
		sub.verbs = make(map[string]struct{}, len(verbs))
		for _, v := range verbs {
			sub.verbs[v] = struct{}{}
		}
	}
	s.subs = append(s.subs, sub)
	id := sub.id
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, candidate := range s.subs {
			if candidate.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(dom string, change StateChange) {
	s.subMu.Lock()
	matched := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.domain != "" && sub.domain != dom {
			continue
		}
		if sub.verbs != nil {
			if _, ok := sub.verbs[change.Action.Verb()]; !ok {
				continue
			}
		}
		matched = append(matched, sub)
	}
	s.subMu.Unlock()

	for _, sub := range matched {
		s.invoke(sub, change)
	}
}

// invoke runs one subscriber, containing panics so a failing subscriber
// neither stops later subscribers nor fails the dispatch.
func (s *Store) invoke(sub subscriber, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Printf("state: subscriber panic on %s: %v", change.Action.Verb(), r)
		}
	}()
	sub.fn(change)
}

// currentGID parses the goroutine id from the stack header. Used only to
// detect same-goroutine reentrant dispatch.
func currentGID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
