package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// CreateSessionParams configure a new session.
type CreateSessionParams struct {
	WorkspaceID      string
	Title            string
	Model            string
	Provider         string
	WorkingDirectory string
}

// CreateSession creates the session row and its session.start root event
// in one transaction.
func (s *Store) CreateSession(p CreateSessionParams) (*types.Session, *types.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	sess := &types.Session{
		ID:               NewSessionID(),
		WorkspaceID:      p.WorkspaceID,
		Title:            p.Title,
		Model:            p.Model,
		WorkingDirectory: p.WorkingDirectory,
		CreatedAt:        now(),
		UpdatedAt:        now(),
	}
	if _, err := tx.Exec(`
INSERT INTO sessions (id, workspace_id, title, model, working_directory, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullStr(sess.WorkspaceID), nullStr(sess.Title), nullStr(sess.Model),
		nullStr(sess.WorkingDirectory),
		sess.CreatedAt.Format(timeLayout), sess.UpdatedAt.Format(timeLayout),
	); err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	root, err := s.Append(sess.ID, types.EventSessionStart, types.SessionStartPayload{
		Model:            p.Model,
		Provider:         p.Provider,
		WorkingDirectory: p.WorkingDirectory,
		Title:            p.Title,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	sess.RootEventID = root.ID
	sess.HeadEventID = root.ID
	sess.EventCount = 1

	logging.Info().Str("session_id", sess.ID).Msg("session created")
	return sess, root, nil
}

// Fork creates a new session rooted at an event of the source session.
// The fork event's parentId crosses into the source session; the source
// is never touched.
func (s *Store) Fork(sourceSessionID, fromEventID, title string) (*types.Session, *types.Event, error) {
	src, err := s.GetSession(sourceSessionID)
	if err != nil {
		return nil, nil, err
	}
	forkPoint, err := s.GetEvent(fromEventID)
	if err != nil {
		return nil, nil, err
	}
	if forkPoint.SessionID != sourceSessionID {
		return nil, nil, fmt.Errorf("event %s is not in session %s", fromEventID, sourceSessionID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	sess := &types.Session{
		ID:               NewSessionID(),
		WorkspaceID:      src.WorkspaceID,
		ParentSessionID:  sourceSessionID,
		ForkFromEventID:  fromEventID,
		Title:            title,
		Model:            src.Model,
		WorkingDirectory: src.WorkingDirectory,
		CreatedAt:        now(),
		UpdatedAt:        now(),
	}
	if _, err := tx.Exec(`
INSERT INTO sessions (id, workspace_id, parent_session_id, fork_from_event_id, title, model, working_directory, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullStr(sess.WorkspaceID), sourceSessionID, fromEventID,
		nullStr(title), nullStr(sess.Model), nullStr(sess.WorkingDirectory),
		sess.CreatedAt.Format(timeLayout), sess.UpdatedAt.Format(timeLayout),
	); err != nil {
		return nil, nil, fmt.Errorf("insert forked session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	root, err := s.Append(sess.ID, types.EventSessionFork, types.SessionForkPayload{
		SourceSessionID: sourceSessionID,
		ForkFromEventID: fromEventID,
		Title:           title,
	}, &AppendOptions{ParentID: fromEventID})
	if err != nil {
		return nil, nil, err
	}
	sess.RootEventID = root.ID
	sess.HeadEventID = root.ID
	sess.EventCount = 1

	logging.Info().
		Str("session_id", sess.ID).
		Str("source", sourceSessionID).
		Str("fork_from", fromEventID).
		Msg("session forked")
	return sess, root, nil
}

// GetSession returns one session row.
func (s *Store) GetSession(sessionID string) (*types.Session, error) {
	row := s.db.QueryRow(selectSession+` WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, err
}

// ListSessions returns sessions, most recently updated first. Archived
// sessions are included only when includeArchived is set.
func (s *Store) ListSessions(includeArchived bool) ([]*types.Session, error) {
	q := selectSession
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY updated_at DESC`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*types.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetArchived flips a session's archived flag.
func (s *Store) SetArchived(sessionID string, archived bool) error {
	a := 0
	if archived {
		a = 1
	}
	res, err := s.db.Exec(`UPDATE sessions SET archived = ?, updated_at = ? WHERE id = ?`,
		a, now().Format(timeLayout), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SetModel records a model switch on the session row and appends the
// config.model_switch event.
func (s *Store) SetModel(sessionID, model, providerType string) (*types.Event, error) {
	ev, err := s.Append(sessionID, types.EventConfigModelSwitch, types.ModelSwitchPayload{
		Model:        model,
		ProviderType: providerType,
	}, nil)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`UPDATE sessions SET model = ?, updated_at = ? WHERE id = ?`,
		model, now().Format(timeLayout), sessionID)
	return ev, err
}

// DeleteMessage appends a message.deleted tombstone; the target row is
// never removed.
func (s *Store) DeleteMessage(sessionID, targetEventID string) (*types.Event, error) {
	target, err := s.GetEvent(targetEventID)
	if err != nil {
		return nil, err
	}
	switch target.Type {
	case types.EventMessageUser, types.EventMessageAssistant, types.EventMessageSystem:
	default:
		return nil, fmt.Errorf("event %s is not a message", targetEventID)
	}
	return s.Append(sessionID, types.EventMessageDeleted, types.MessageDeletedPayload{
		TargetEventID: targetEventID,
	}, nil)
}

// WasSessionInterrupted reports whether the session's last persisted turn
// never reached its stream.turn_end marker.
func (s *Store) WasSessionInterrupted(sessionID string) (bool, error) {
	var lastStart, lastEnd sql.NullInt64
	err := s.db.QueryRow(`
SELECT
	(SELECT MAX(sequence) FROM events WHERE session_id = ? AND type = ?),
	(SELECT MAX(sequence) FROM events WHERE session_id = ? AND type = ?)`,
		sessionID, string(types.EventStreamTurnStart),
		sessionID, string(types.EventStreamTurnEnd),
	).Scan(&lastStart, &lastEnd)
	if err != nil {
		return false, err
	}
	if !lastStart.Valid {
		return false, nil
	}
	return !lastEnd.Valid || lastEnd.Int64 < lastStart.Int64, nil
}

// EnsureWorkspace returns the workspace for path, creating it on first use
// and bumping last_used_at otherwise.
func (s *Store) EnsureWorkspace(path string) (*types.Workspace, error) {
	ws := &types.Workspace{}
	var created, lastUsed string
	err := s.db.QueryRow(
		`SELECT id, path, COALESCE(name, ''), created_at, last_used_at FROM workspaces WHERE path = ?`,
		path,
	).Scan(&ws.ID, &ws.Path, &ws.Name, &created, &lastUsed)
	switch err {
	case nil:
		ws.CreatedAt, _ = time.Parse(timeLayout, created)
		ws.LastUsedAt = now()
		_, err = s.db.Exec(`UPDATE workspaces SET last_used_at = ? WHERE id = ?`,
			ws.LastUsedAt.Format(timeLayout), ws.ID)
		return ws, err
	case sql.ErrNoRows:
		ws = &types.Workspace{
			ID:         NewWorkspaceID(),
			Path:       path,
			CreatedAt:  now(),
			LastUsedAt: now(),
		}
		_, err = s.db.Exec(`INSERT INTO workspaces (id, path, created_at, last_used_at) VALUES (?, ?, ?, ?)`,
			ws.ID, ws.Path, ws.CreatedAt.Format(timeLayout), ws.LastUsedAt.Format(timeLayout))
		return ws, err
	default:
		return nil, err
	}
}

const selectSession = `SELECT id, COALESCE(workspace_id,''), COALESCE(head_event_id,''), COALESCE(root_event_id,''),
	COALESCE(parent_session_id,''), COALESCE(fork_from_event_id,''), COALESCE(title,''), COALESCE(model,''),
	COALESCE(working_directory,''), created_at, updated_at,
	event_count, message_count, total_input_tokens, total_output_tokens, archived
FROM sessions`

func scanSession(r rowScanner) (*types.Session, error) {
	var sess types.Session
	var created, updated string
	var archived int
	if err := r.Scan(&sess.ID, &sess.WorkspaceID, &sess.HeadEventID, &sess.RootEventID,
		&sess.ParentSessionID, &sess.ForkFromEventID, &sess.Title, &sess.Model,
		&sess.WorkingDirectory, &created, &updated,
		&sess.EventCount, &sess.MessageCount, &sess.TotalInputTokens, &sess.TotalOutputTokens,
		&archived); err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(timeLayout, created)
	sess.UpdatedAt, _ = time.Parse(timeLayout, updated)
	sess.Archived = archived != 0
	return &sess, nil
}

func getSessionTx(tx *sql.Tx, sessionID string) (*types.Session, error) {
	row := tx.QueryRow(selectSession+` WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return sess, err
}

// bumpSessionTx updates the denormalized session counters after an append,
// inside the append's transaction.
func bumpSessionTx(tx *sql.Tx, sessionID string, ev *types.Event, d denormalized) error {
	msgDelta := 0
	switch ev.Type {
	case types.EventMessageUser, types.EventMessageAssistant, types.EventMessageSystem:
		msgDelta = 1
	}
	in, _ := d.inputTokens.(int64)
	out, _ := d.outputTokens.(int64)

	set := `head_event_id = ?, updated_at = ?, event_count = event_count + 1,
		message_count = message_count + ?, total_input_tokens = total_input_tokens + ?,
		total_output_tokens = total_output_tokens + ?`
	args := []any{ev.ID, now().Format(timeLayout), msgDelta, in, out}
	if ev.Sequence == 1 {
		set += `, root_event_id = ?`
		args = append(args, ev.ID)
	}
	args = append(args, sessionID)
	_, err := tx.Exec(`UPDATE sessions SET `+set+` WHERE id = ?`, args...)
	return err
}
