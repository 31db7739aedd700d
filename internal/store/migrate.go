package store

import (
	"database/sql"
	"fmt"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
)

// Migration is one numbered schema step. Versions apply in order, exactly
// once, each inside its own transaction.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "core schema: events, sessions, branches, workspaces, FTS",
		SQL: `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	parent_id       TEXT,
	session_id      TEXT NOT NULL,
	workspace_id    TEXT,
	sequence        INTEGER NOT NULL,
	timestamp       TEXT NOT NULL,
	type            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	checksum        TEXT,
	role            TEXT,
	tool_name       TEXT,
	tool_call_id    TEXT,
	turn            INTEGER,
	input_tokens    INTEGER,
	output_tokens   INTEGER,
	cache_read_tokens     INTEGER,
	cache_creation_tokens INTEGER,
	depth           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, sequence);
CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_session_type ON events(session_id, type);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	workspace_id        TEXT,
	head_event_id       TEXT,
	root_event_id       TEXT,
	parent_session_id   TEXT,
	fork_from_event_id  TEXT,
	title               TEXT,
	model               TEXT,
	working_directory   TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	event_count         INTEGER NOT NULL DEFAULT 0,
	message_count       INTEGER NOT NULL DEFAULT 0,
	total_input_tokens  INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0,
	archived            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS branches (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	root_event_id TEXT NOT NULL,
	head_event_id TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	UNIQUE(session_id, name)
);

CREATE TABLE IF NOT EXISTS workspaces (
	id           TEXT PRIMARY KEY,
	path         TEXT NOT NULL UNIQUE,
	name         TEXT,
	created_at   TEXT NOT NULL,
	last_used_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	content,
	event_id UNINDEXED,
	session_id UNINDEXED,
	type UNINDEXED
);

CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events BEGIN
	DELETE FROM events_fts WHERE event_id = old.id;
END;
`,
	},
	{
		Version:     2,
		Description: "denormalized analytics columns on events",
		SQL: `
ALTER TABLE events ADD COLUMN model TEXT;
ALTER TABLE events ADD COLUMN latency_ms INTEGER;
ALTER TABLE events ADD COLUMN stop_reason TEXT;
ALTER TABLE events ADD COLUMN has_thinking INTEGER;
ALTER TABLE events ADD COLUMN provider_type TEXT;
ALTER TABLE events ADD COLUMN cost REAL;
`,
	},
	{
		Version:     3,
		Description: "enforce gap-free per-session sequences",
		SQL: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_seq_unique ON events(session_id, sequence);
`,
	},
}

// Migrate applies pending migrations and records them in schema_version.
// Safe to call repeatedly.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	applied_at  TEXT NOT NULL,
	description TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Description, err)
		}
		logging.Info().Int("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}
	return nil
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)`,
		m.Version, now().Format(timeLayout), m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version, 0 if none.
func (s *Store) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return int(v.Int64), nil
}
