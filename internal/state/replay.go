package state

import (
	"fmt"
	"time"
)

// Replay applies recorded changes in order to a store, pinning the store
// clock to each change's timestamp so the rebuilt tree matches the original
// exactly. The target store is expected to be freshly constructed.
func Replay(changes []StateChange, s *Store) error {
	saved := s.Now
	defer func() { s.Now = saved }()
	for i, change := range changes {
		ts := change.Timestamp
		s.Now = func() time.Time { return ts }
		if err := s.Dispatch(change.Action); err != nil {
			return fmt.Errorf("replay change %d (%s): %w", i, change.Action.Verb(), err)
		}
	}
	return nil
}
