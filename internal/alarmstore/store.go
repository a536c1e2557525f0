// Package alarmstore is the SQLite-backed persistence layer implementing
// the read/write contracts internal/rulesengine, internal/reverseindex, and
// internal/dispatcher depend on. It opens the database the same way the
// teacher's internal/database manager does (modernc.org/sqlite, a
// time-format DSN flag, single-writer connection pool) but, since this
// module has no generated ent client to drive, issues hand-written SQL
// instead of going through ent.
package alarmstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB and implements the persistence interfaces every
// alarm-engine component needs: rulesengine.Repositories,
// reverseindex.Store, and dispatcher.StateProvider.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path using the same
// driver and DSN convention the teacher's database manager uses, and
// restricts the pool to a single writer connection, matching SQLite's
// single-writer model.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	cooldown_seconds INTEGER NOT NULL DEFAULT 0,
	definition_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_entity_refs (
	rule_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	PRIMARY KEY (rule_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_rule_entity_refs_entity ON rule_entity_refs(entity_id);

CREATE TABLE IF NOT EXISTS entities (
	entity_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	last_state TEXT,
	last_changed TEXT,
	last_seen TEXT,
	attributes_json TEXT
);

CREATE TABLE IF NOT EXISTS rule_runtime_state (
	rule_id TEXT PRIMARY KEY,
	node_id TEXT NOT NULL DEFAULT 'when',
	scheduled_for TEXT,
	became_true_at TEXT,
	last_fired_at TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_failure_at TEXT,
	last_error TEXT,
	next_allowed_at TEXT,
	error_suspended INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS rule_action_log (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL,
	fired_at TEXT NOT NULL,
	kind TEXT NOT NULL,
	actions_json TEXT NOT NULL,
	result_json TEXT NOT NULL,
	trace_json TEXT NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS alarm_state_snapshots (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	closed_at TEXT
);

CREATE TABLE IF NOT EXISTS frigate_detections (
	provider TEXT NOT NULL,
	event_id TEXT NOT NULL,
	label TEXT NOT NULL,
	camera TEXT NOT NULL,
	zones_json TEXT NOT NULL,
	confidence_pct REAL NOT NULL,
	observed_at TEXT NOT NULL,
	PRIMARY KEY (provider, event_id)
);
CREATE INDEX IF NOT EXISTS idx_frigate_detections_time ON frigate_detections(label, observed_at);

CREATE TABLE IF NOT EXISTS reverse_index_version (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL
);
`

// Migrate applies the schema, creating tables that don't yet exist. It is
// safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("alarmstore: migrate: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reverse_index_version`).Scan(&count); err != nil {
		return fmt.Errorf("alarmstore: migrate: check version row: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO reverse_index_version (id, version) VALUES (1, ?)`, uuid.NewString()); err != nil {
			return fmt.Errorf("alarmstore: migrate: seed version: %w", err)
		}
	}
	return nil
}

// bumpReverseIndexVersion must be called inside the same transaction as any
// write to rules or rule_entity_refs, so reverseindex.Index.stale() observes
// the change on its next poll.
func bumpReverseIndexVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE reverse_index_version SET version = ? WHERE id = 1`, uuid.NewString())
	return err
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanNullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
