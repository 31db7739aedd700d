package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

const timeLayout = time.RFC3339Nano

// maxTreeDepth caps recursive tree walks so a corrupted parent cycle
// cannot spin a CTE forever.
const maxTreeDepth = 10000

// AppendOptions carries optional append parameters.
type AppendOptions struct {
	// ParentID links the new event. Empty means "the session head"; for
	// the first event of a session it stays empty (root).
	ParentID string
	// WorkspaceID tags the event; defaults to the session's workspace.
	WorkspaceID string
}

// Append persists one event: assigns id, per-session sequence, depth and
// checksum, inserts the row, updates the search index and the session
// counters, all in a single transaction. On any failure nothing is
// written; callers retry the whole append.
func (s *Store) Append(sessionID string, eventType types.EventType, payload any, opts *AppendOptions) (*types.Event, error) {
	if !types.IsKnownEventType(eventType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sess, err := getSessionTx(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, fmt.Errorf("append to %s: %w", sessionID, ErrSessionArchived)
	}

	parentID := ""
	workspaceID := sess.WorkspaceID
	if opts != nil {
		parentID = opts.ParentID
		if opts.WorkspaceID != "" {
			workspaceID = opts.WorkspaceID
		}
	}
	if parentID == "" {
		parentID = sess.HeadEventID
	}

	var depth int64
	if parentID != "" {
		if err := tx.QueryRow(`SELECT depth FROM events WHERE id = ?`, parentID).Scan(&depth); err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("parent event %s: %w", parentID, ErrNotFound)
			}
			return nil, err
		}
		depth++
	}

	var seq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(sequence) FROM events WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return nil, err
	}

	ev := &types.Event{
		ID:          NewEventID(),
		ParentID:    parentID,
		SessionID:   sessionID,
		WorkspaceID: workspaceID,
		Sequence:    seq.Int64 + 1,
		Timestamp:   now(),
		Type:        eventType,
		Payload:     raw,
	}
	ev.Checksum = ComputeChecksum(ev.ParentID, ev.Payload)

	d := extractDenormalized(eventType, raw)

	if _, err := tx.Exec(`
INSERT INTO events (
	id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum,
	role, tool_name, tool_call_id, turn,
	input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens,
	depth, model, latency_ms, stop_reason, has_thinking, provider_type, cost
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, nullStr(ev.ParentID), ev.SessionID, nullStr(ev.WorkspaceID),
		ev.Sequence, ev.Timestamp.Format(timeLayout), string(ev.Type), string(ev.Payload), ev.Checksum,
		d.role, d.toolName, d.toolCallID, d.turn,
		d.inputTokens, d.outputTokens, d.cacheReadTokens, d.cacheCreationTokens,
		depth, d.model, d.latencyMS, d.stopReason, d.hasThinking, d.providerType, d.cost,
	); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if text := searchableText(eventType, raw); text != "" {
		if _, err := tx.Exec(
			`INSERT INTO events_fts (content, event_id, session_id, type) VALUES (?, ?, ?, ?)`,
			text, ev.ID, ev.SessionID, string(ev.Type),
		); err != nil {
			return nil, fmt.Errorf("index event: %w", err)
		}
	}

	if err := bumpSessionTx(tx, sessionID, ev, d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logging.Debug().
		Str("event_id", ev.ID).
		Str("session_id", sessionID).
		Str("type", string(eventType)).
		Int64("sequence", ev.Sequence).
		Msg("event appended")
	return ev, nil
}

// denormalized holds the queryable columns extracted from a payload.
// Every field is rebuildable from the payload; the log stays authoritative.
type denormalized struct {
	role                any
	toolName            any
	toolCallID          any
	turn                any
	inputTokens         any
	outputTokens        any
	cacheReadTokens     any
	cacheCreationTokens any
	model               any
	latencyMS           any
	stopReason          any
	hasThinking         any
	providerType        any
	cost                any
}

func extractDenormalized(t types.EventType, raw json.RawMessage) denormalized {
	var d denormalized
	switch t {
	case types.EventMessageUser:
		d.role = "user"
		var p types.UserMessagePayload
		if json.Unmarshal(raw, &p) == nil && p.Turn > 0 {
			d.turn = p.Turn
		}
	case types.EventMessageSystem:
		d.role = "system"
	case types.EventMessageAssistant:
		d.role = "assistant"
		var p types.AssistantMessagePayload
		if json.Unmarshal(raw, &p) == nil {
			if p.Turn > 0 {
				d.turn = p.Turn
			}
			if p.Model != "" {
				d.model = p.Model
			}
			if p.LatencyMS > 0 {
				d.latencyMS = p.LatencyMS
			}
			if p.StopReason != "" {
				d.stopReason = p.StopReason
			}
			if p.ProviderType != "" {
				d.providerType = p.ProviderType
			}
			if p.HasThinking {
				d.hasThinking = 1
			}
			if p.CostUSD > 0 {
				d.cost = p.CostUSD
			}
			if u := p.TokenUsage; u != nil {
				d.inputTokens = u.InputTokens
				d.outputTokens = u.OutputTokens
				d.cacheReadTokens = u.CacheReadTokens
				d.cacheCreationTokens = u.CacheCreationTokens
			}
		}
	case types.EventToolCall:
		var p types.ToolCallPayload
		if json.Unmarshal(raw, &p) == nil {
			d.toolName = p.Name
			d.toolCallID = p.ToolCallID
			if p.Turn > 0 {
				d.turn = p.Turn
			}
		}
	case types.EventToolResult:
		var p types.ToolResultPayload
		if json.Unmarshal(raw, &p) == nil {
			d.toolName = nullStr(p.Name)
			d.toolCallID = p.ToolCallID
		}
	case types.EventStreamTurnStart:
		var p types.TurnStartPayload
		if json.Unmarshal(raw, &p) == nil && p.Turn > 0 {
			d.turn = p.Turn
		}
	case types.EventStreamTurnEnd:
		var p types.TurnEndPayload
		if json.Unmarshal(raw, &p) == nil {
			if p.Turn > 0 {
				d.turn = p.Turn
			}
			if p.StopReason != "" {
				d.stopReason = p.StopReason
			}
			if u := p.TokenUsage; u != nil {
				d.inputTokens = u.InputTokens
				d.outputTokens = u.OutputTokens
				d.cacheReadTokens = u.CacheReadTokens
				d.cacheCreationTokens = u.CacheCreationTokens
			}
		}
	}
	return d
}

// searchableText extracts the text worth indexing for an event, empty
// when the event carries nothing searchable.
func searchableText(t types.EventType, raw json.RawMessage) string {
	switch t {
	case types.EventMessageUser, types.EventMessageAssistant, types.EventMessageSystem:
		var p struct {
			Content []types.ContentBlock `json:"content"`
		}
		if json.Unmarshal(raw, &p) != nil {
			return ""
		}
		text := ""
		for _, b := range p.Content {
			switch b.Type {
			case "text":
				if text != "" {
					text += "\n"
				}
				text += b.Text
			case "tool_result":
				if text != "" {
					text += "\n"
				}
				text += b.Content
			}
		}
		return text
	case types.EventToolResult:
		var p types.ToolResultPayload
		if json.Unmarshal(raw, &p) == nil {
			return p.Content
		}
	case types.EventCompactBoundary:
		var p types.CompactBoundaryPayload
		if json.Unmarshal(raw, &p) == nil {
			return p.Summary
		}
	}
	return ""
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(eventID string) (*types.Event, error) {
	row := s.db.QueryRow(selectEvent+` WHERE id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return ev, err
}

// GetSessionEvents returns all of a session's events in sequence order.
func (s *Store) GetSessionEvents(sessionID string) ([]*types.Event, error) {
	return s.queryEvents(selectEvent+` WHERE session_id = ? ORDER BY sequence`, sessionID)
}

// GetEventsSince returns a session's events with sequence > after.
func (s *Store) GetEventsSince(sessionID string, after int64) ([]*types.Event, error) {
	return s.queryEvents(
		selectEvent+` WHERE session_id = ? AND sequence > ? ORDER BY sequence`,
		sessionID, after)
}

// GetEventsByType returns a session's events of the given types, in
// sequence order, optionally limited.
func (s *Store) GetEventsByType(sessionID string, eventTypes []types.EventType, limit int) ([]*types.Event, error) {
	if len(eventTypes) == 0 {
		return []*types.Event{}, nil
	}
	q := selectEvent + ` WHERE session_id = ? AND type IN (`
	args := []any{sessionID}
	for i, t := range eventTypes {
		if i > 0 {
			q += ","
		}
		q += "?"
		args = append(args, string(t))
	}
	q += `) ORDER BY sequence`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(q, args...)
}

// GetAncestors walks parent links from eventID back to the root and
// returns the chain root-first. Forked sessions cross into their source
// session's events.
func (s *Store) GetAncestors(eventID string) ([]*types.Event, error) {
	events, err := s.queryEvents(`
WITH RECURSIVE ancestors(id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum, lvl) AS (
	SELECT id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum, 0
	FROM events WHERE id = ?
	UNION ALL
	SELECT e.id, e.parent_id, e.session_id, e.workspace_id, e.sequence, e.timestamp, e.type, e.payload, e.checksum, a.lvl + 1
	FROM events e JOIN ancestors a ON e.id = a.parent_id
	WHERE a.lvl < ?
)
SELECT id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum
FROM ancestors ORDER BY lvl DESC`, eventID, maxTreeDepth)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return events, nil
}

// GetChildren returns the direct children of an event.
func (s *Store) GetChildren(eventID string) ([]*types.Event, error) {
	return s.queryEvents(selectEvent+` WHERE parent_id = ? ORDER BY timestamp, sequence`, eventID)
}

// GetDescendants returns the subtree under eventID (excluding the event
// itself), breadth-ish by depth then sequence. maxDepth <= 0 means no cap
// beyond the built-in cycle guard.
func (s *Store) GetDescendants(eventID string, maxDepth int) ([]*types.Event, error) {
	cap := maxDepth
	if cap <= 0 || cap > maxTreeDepth {
		cap = maxTreeDepth
	}
	return s.queryEvents(`
WITH RECURSIVE descendants(id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum, lvl) AS (
	SELECT id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum, 0
	FROM events WHERE parent_id = ?
	UNION ALL
	SELECT e.id, e.parent_id, e.session_id, e.workspace_id, e.sequence, e.timestamp, e.type, e.payload, e.checksum, d.lvl + 1
	FROM events e JOIN descendants d ON e.parent_id = d.id
	WHERE d.lvl < ? - 1
)
SELECT id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum
FROM descendants ORDER BY lvl, sequence`, eventID, cap)
}

// SubtreeDirection selects which way GetSubtree walks.
type SubtreeDirection string

const (
	SubtreeDown SubtreeDirection = "down"
	SubtreeUp   SubtreeDirection = "up"
)

// GetSubtree returns the event plus its subtree (down) or its ancestor
// chain (up), bounded by maxDepth.
func (s *Store) GetSubtree(eventID string, maxDepth int, direction SubtreeDirection) ([]*types.Event, error) {
	if direction == SubtreeUp {
		chain, err := s.GetAncestors(eventID)
		if err != nil {
			return nil, err
		}
		if maxDepth > 0 && len(chain) > maxDepth {
			chain = chain[len(chain)-maxDepth:]
		}
		return chain, nil
	}
	root, err := s.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	rest, err := s.GetDescendants(eventID, maxDepth)
	if err != nil {
		return nil, err
	}
	return append([]*types.Event{root}, rest...), nil
}

// VerifySequences checks a session's log for sequence gaps. Returns nil
// when the log is gap-free and strictly increasing from 1.
func (s *Store) VerifySequences(sessionID string) error {
	rows, err := s.db.Query(
		`SELECT id, sequence FROM events WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var want int64 = 1
	lastID := ""
	for rows.Next() {
		var id string
		var seq int64
		if err := rows.Scan(&id, &seq); err != nil {
			return err
		}
		if seq != want {
			return &IntegrityError{
				EventID:      id,
				SessionID:    sessionID,
				Reason:       fmt.Sprintf("sequence gap: want %d, got %d", want, seq),
				LastValidSeq: want - 1,
				LastValidID:  lastID,
			}
		}
		want++
		lastID = id
	}
	return rows.Err()
}

const selectEvent = `SELECT id, parent_id, session_id, workspace_id, sequence, timestamp, type, payload, checksum FROM events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*types.Event, error) {
	var ev types.Event
	var parentID, workspaceID, checksum sql.NullString
	var ts, payload string
	if err := r.Scan(&ev.ID, &parentID, &ev.SessionID, &workspaceID,
		&ev.Sequence, &ts, &ev.Type, &payload, &checksum); err != nil {
		return nil, err
	}
	ev.Payload = json.RawMessage(payload)
	ev.ParentID = parentID.String
	ev.WorkspaceID = workspaceID.String
	ev.Checksum = checksum.String
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	ev.Timestamp = t
	return &ev, nil
}

func (s *Store) queryEvents(query string, args ...any) ([]*types.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*types.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	case []byte:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
