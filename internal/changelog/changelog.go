// Package changelog persists the store's StateChange log to SQLite so that
// state survives restarts: replaying the log into a fresh store rebuilds
// the exact tree that produced it.
package changelog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"swarmline/internal/action"
	"swarmline/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	verb TEXT NOT NULL,
	domain TEXT NOT NULL,
	path TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	previous TEXT NOT NULL DEFAULT 'null',
	new_value TEXT NOT NULL DEFAULT 'null'
);
CREATE INDEX IF NOT EXISTS idx_changes_domain ON changes(domain);
`

// Log is an append-only changelog. It implements state.ChangeSink.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the changelog database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create changelog directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open changelog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create changelog schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Append persists one change. Called synchronously from inside Dispatch;
// the store logs append failures and keeps going, so the in-memory state
// remains authoritative.
func (l *Log) Append(change state.StateChange) error {
	encoded, err := action.Encode(change.Action)
	if err != nil {
		return err
	}
	prev, err := json.Marshal(change.Previous)
	if err != nil {
		return fmt.Errorf("encode previous value: %w", err)
	}
	next, err := json.Marshal(change.New)
	if err != nil {
		return fmt.Errorf("encode new value: %w", err)
	}
	_, err = l.db.Exec(
		`INSERT INTO changes (id, timestamp, verb, domain, path, source, action, previous, new_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		change.ID,
		change.Timestamp.UTC().Format(time.RFC3339Nano),
		change.Action.Verb(),
		action.Domain(change.Action),
		change.Path,
		change.Action.Metadata().Source,
		string(encoded),
		string(prev),
		string(next),
	)
	if err != nil {
		return fmt.Errorf("append change %s: %w", change.ID, err)
	}
	return nil
}

// Changes loads every persisted change in append order, ready for
// state.Replay.
func (l *Log) Changes() ([]state.StateChange, error) {
	rows, err := l.db.Query(`SELECT id, timestamp, action FROM changes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load changelog: %w", err)
	}
	defer rows.Close()

	var out []state.StateChange
	for rows.Next() {
		var id, ts, encoded string
		if err := rows.Scan(&id, &ts, &encoded); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		timestamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("change %s: bad timestamp %q: %w", id, ts, err)
		}
		act, err := action.Decode([]byte(encoded))
		if err != nil {
			return nil, fmt.Errorf("change %s: %w", id, err)
		}
		out = append(out, state.StateChange{ID: id, Timestamp: timestamp, Action: act})
	}
	return out, rows.Err()
}

// Replay rebuilds a fresh store from the persisted log.
func (l *Log) Replay(s *state.Store) error {
	changes, err := l.Changes()
	if err != nil {
		return err
	}
	return state.Replay(changes, s)
}

// Record is one changelog row as shown by `swl changelog tail`.
type Record struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Verb      string    `json:"verb"`
	Domain    string    `json:"domain"`
	Path      string    `json:"path"`
	Source    string    `json:"source"`
}

// Tail returns the most recent n records, oldest first.
func (l *Log) Tail(n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := l.db.Query(
		`SELECT seq, id, timestamp, verb, domain, path, source
		 FROM changes ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("tail changelog: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.Seq, &r.ID, &ts, &r.Verb, &r.Domain, &r.Path, &r.Source); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("record %d: bad timestamp %q: %w", r.Seq, ts, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
