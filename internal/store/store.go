package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
)

// Sentinel errors returned by store operations.
var (
	ErrNotFound         = errors.New("not found")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrSessionArchived  = errors.New("session is archived")
)

// IntegrityError describes a broken spot in an event chain: a checksum
// mismatch, a missing parent, or a sequence gap.
type IntegrityError struct {
	EventID      string
	SessionID    string
	Reason       string
	LastValidSeq int64
	LastValidID  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("event log integrity: %s (event %s, session %s, last valid seq %d)",
		e.Reason, e.EventID, e.SessionID, e.LastValidSeq)
}

// Store wraps the SQLite database. One Store per database file; safe for
// concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, configures WAL
// mode, and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent readers, busy timeout so writers queue instead
	// of failing, foreign keys on.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Debug().Str("path", path).Msg("event store opened")
	return s, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NewEventID returns a fresh event id.
func NewEventID() string { return "evt_" + ulid.Make().String() }

// NewSessionID returns a fresh session id.
func NewSessionID() string { return "sess_" + ulid.Make().String() }

// NewBranchID returns a fresh branch id.
func NewBranchID() string { return "br_" + ulid.Make().String() }

// NewWorkspaceID returns a fresh workspace id.
func NewWorkspaceID() string { return "ws_" + ulid.Make().String() }

func now() time.Time { return time.Now().UTC() }
