package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// Maintenance operations reduce storage footprint; none of them is ever
// required for correctness, and all are safe to run alongside appends.

// PruneParams select which events pruning may remove.
type PruneParams struct {
	// MaxAge removes events older than now-MaxAge.
	MaxAge time.Duration
	// TypeGlob limits pruning to matching event types, e.g. "stream.*".
	// Empty means ephemeral marker types only.
	TypeGlob string
}

// defaultPrunable are the marker types safe to blank from archived
// sessions without affecting reconstruction.
var defaultPrunable = []types.EventType{
	types.EventStreamTurnStart,
	types.EventStreamTurnEnd,
}

// emptyPayload is what a pruned event's payload collapses to.
var emptyPayload = json.RawMessage("{}")

// PruneEvents blanks the payloads of matching events in archived
// sessions only. Rows stay in place with a recomputed checksum, so the
// hash chain, ancestor walks, and reconstruction all keep working; only
// the payload bytes and their search-index entries go. Live session
// history is never pruned.
func (s *Store) PruneEvents(p PruneParams) (int64, error) {
	if p.MaxAge <= 0 {
		return 0, fmt.Errorf("prune: MaxAge must be positive")
	}
	cutoff := now().Add(-p.MaxAge).Format(timeLayout)

	var matched []string
	if p.TypeGlob != "" {
		for _, t := range types.KnownEventTypes {
			ok, err := doublestar.Match(p.TypeGlob, string(t))
			if err != nil {
				return 0, fmt.Errorf("prune glob %q: %w", p.TypeGlob, err)
			}
			if ok {
				matched = append(matched, string(t))
			}
		}
	} else {
		for _, t := range defaultPrunable {
			matched = append(matched, string(t))
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	q := `SELECT id, parent_id FROM events WHERE timestamp < ? AND payload != '{}'
	AND session_id IN (SELECT id FROM sessions WHERE archived = 1)
	AND type IN (`
	args := []any{cutoff}
	for i, t := range matched {
		if i > 0 {
			q += ","
		}
		q += "?"
		args = append(args, t)
	}
	q += ")"

	rows, err := tx.Query(q, args...)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	type target struct{ id, parentID string }
	var targets []target
	for rows.Next() {
		var id string
		var parent sql.NullString
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return 0, err
		}
		targets = append(targets, target{id: id, parentID: parent.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, t := range targets {
		checksum := ComputeChecksum(t.parentID, emptyPayload)
		if _, err := tx.Exec(
			`UPDATE events SET payload = '{}', checksum = ? WHERE id = ?`, checksum, t.id,
		); err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM events_fts WHERE event_id = ?`, t.id); err != nil {
			return 0, fmt.Errorf("prune: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	n := int64(len(targets))
	if n > 0 {
		logging.Info().Int64("pruned", n).Str("glob", p.TypeGlob).Msg("event payloads pruned")
	}
	return n, nil
}

// Checkpoint runs a passive WAL checkpoint; it never blocks writers.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`)
	return err
}

// Analyze refreshes the query planner statistics.
func (s *Store) Analyze() error {
	_, err := s.db.Exec(`ANALYZE`)
	return err
}

// Vacuum compacts the database file. Heaviest of the maintenance steps;
// callers schedule it sparingly.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

// RunMaintenance executes one maintenance cycle per config.
func (s *Store) RunMaintenance(cfg *types.MaintenanceConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if cfg.PruneMaxAge > 0 {
		if _, err := s.PruneEvents(PruneParams{MaxAge: cfg.PruneMaxAge, TypeGlob: cfg.PruneTypeGlob}); err != nil {
			return err
		}
	}
	if err := s.Checkpoint(); err != nil {
		return err
	}
	return s.Analyze()
}
