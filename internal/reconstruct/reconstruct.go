// Package reconstruct replays a session's event chain into an in-memory
// SessionState projection. This is the only place projection rules live;
// the store knows nothing about them.
package reconstruct

import (
	"encoding/json"
	"fmt"

	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// CompactionSummaryPrefix introduces the substituted summary after a
// compaction boundary.
const CompactionSummaryPrefix = "[Context from earlier in this conversation]"

// CompactionAckText is the fixed assistant acknowledgement that follows
// the summary, keeping user/assistant alternation intact for providers
// that require it.
const CompactionAckText = "I understand the previous context. Let me continue helping you."

// InterruptedToolResultText fills in for a tool call that never reported.
const InterruptedToolResultText = "Tool execution was interrupted."

// Result carries the projection plus the integrity verdict. On a broken
// chain State holds the last valid projection and Err describes the break.
type Result struct {
	State *types.SessionState
	Err   *store.IntegrityError
}

// Reconstruct replays events (root-first ancestor chain, as returned by
// the store's GetAncestors) into a SessionState. Checksums validate
// before any projection; a mismatch stops replay at the corrupt event.
func Reconstruct(sessionID string, events []*types.Event) Result {
	st := &types.SessionState{
		SessionID: sessionID,
		Messages:  []types.Message{},
	}
	if len(events) == 0 {
		return Result{State: st}
	}

	// Pass 1: validate the chain and find the effective start. When
	// several boundaries exist on one path the most recent wins.
	start := 0
	var boundary *types.Event
	prevID := events[0].ParentID
	for i, ev := range events {
		if ev.ParentID != prevID {
			return Result{State: st, Err: &store.IntegrityError{
				EventID:   ev.ID,
				SessionID: sessionID,
				Reason:    fmt.Sprintf("parent mismatch: event links %q, chain has %q", ev.ParentID, prevID),
			}}
		}
		if !store.VerifyChecksum(ev.Checksum, ev.ParentID, ev.Payload) {
			// Project what precedes the corruption, then report.
			partial := project(st, events[:i], -1, nil)
			lastValid := ""
			var lastSeq int64
			if i > 0 {
				lastValid = events[i-1].ID
				lastSeq = events[i-1].Sequence
			}
			return Result{State: partial, Err: &store.IntegrityError{
				EventID:      ev.ID,
				SessionID:    sessionID,
				Reason:       "checksum mismatch",
				LastValidID:  lastValid,
				LastValidSeq: lastSeq,
			}}
		}
		prevID = ev.ID
		switch ev.Type {
		case types.EventCompactBoundary, types.EventContextCleared:
			start = i
			boundary = ev
		}
	}

	st.HeadEventID = events[len(events)-1].ID
	return Result{State: project(st, events, start, boundary)}
}

// projector accumulates messages with same-role merging and deferred
// tool-result flushing.
type projector struct {
	st *types.SessionState

	messages       []types.Message
	pendingResults []types.ContentBlock
	pendingIDs     []string
	deleted        map[string]bool
}

func project(st *types.SessionState, events []*types.Event, start int, boundary *types.Event) *types.SessionState {
	p := &projector{st: st, deleted: map[string]bool{}}

	// Deletions apply wherever the tombstone sits relative to the start.
	for _, ev := range events {
		if ev.Type == types.EventMessageDeleted {
			var d types.MessageDeletedPayload
			if json.Unmarshal(ev.Payload, &d) == nil {
				p.deleted[d.TargetEventID] = true
			}
		}
	}

	if boundary != nil && boundary.Type == types.EventCompactBoundary {
		var b types.CompactBoundaryPayload
		if json.Unmarshal(boundary.Payload, &b) == nil {
			p.messages = append(p.messages,
				types.Message{
					Role:     "user",
					Content:  []types.ContentBlock{types.TextBlock(CompactionSummaryPrefix + "\n\n" + b.Summary)},
					EventIDs: []string{boundary.ID},
				},
				types.Message{
					Role:     "assistant",
					Content:  []types.ContentBlock{types.TextBlock(CompactionAckText)},
					EventIDs: []string{boundary.ID},
				})
		}
		st.CompactedAt = boundary.ID
	}

	replay := events
	if start > 0 && start < len(events) {
		replay = events[start+1:]
	}

	for _, ev := range replay {
		p.apply(ev)
	}
	p.flushToolResults()

	st.Messages = p.messages
	return st
}

func (p *projector) apply(ev *types.Event) {
	st := p.st
	switch ev.Type {
	case types.EventSessionStart:
		var s types.SessionStartPayload
		if json.Unmarshal(ev.Payload, &s) == nil {
			if s.Model != "" {
				st.Model = s.Model
			}
			if s.Provider != "" {
				st.ProviderType = s.Provider
			}
			if s.WorkingDirectory != "" {
				st.WorkingDirectory = s.WorkingDirectory
			}
		}

	case types.EventSessionEnd:
		st.Archived = true

	case types.EventConfigModelSwitch:
		var m types.ModelSwitchPayload
		if json.Unmarshal(ev.Payload, &m) == nil {
			st.Model = m.Model
			if m.ProviderType != "" {
				st.ProviderType = m.ProviderType
			}
		}

	case types.EventMessageUser:
		if p.deleted[ev.ID] {
			return
		}
		var u types.UserMessagePayload
		if json.Unmarshal(ev.Payload, &u) != nil {
			return
		}
		p.flushToolResults()
		p.appendMessage("user", u.Content, ev.ID)
		if u.Turn > st.TurnCount {
			st.TurnCount = u.Turn
		}

	case types.EventMessageSystem:
		if p.deleted[ev.ID] {
			return
		}
		var u types.UserMessagePayload
		if json.Unmarshal(ev.Payload, &u) != nil {
			return
		}
		p.flushToolResults()
		p.appendMessage("system", u.Content, ev.ID)

	case types.EventMessageAssistant:
		if p.deleted[ev.ID] {
			return
		}
		var a types.AssistantMessagePayload
		if json.Unmarshal(ev.Payload, &a) != nil {
			return
		}
		p.flushToolResults()
		p.appendMessage("assistant", a.Content, ev.ID)
		if a.Turn > st.TurnCount {
			st.TurnCount = a.Turn
		}
		if a.Model != "" {
			st.Model = a.Model
		}
		if a.ProviderType != "" {
			st.ProviderType = a.ProviderType
		}
		st.Interrupted = a.Interrupted
		if u := a.TokenUsage; u != nil {
			st.Tokens.InputTokens += u.InputTokens
			st.Tokens.OutputTokens += u.OutputTokens
			st.Tokens.CacheReadTokens += u.CacheReadTokens
			st.Tokens.CacheCreationTokens += u.CacheCreationTokens
		}

	case types.EventToolResult:
		var r types.ToolResultPayload
		if json.Unmarshal(ev.Payload, &r) != nil {
			return
		}
		p.pendingResults = append(p.pendingResults,
			types.ToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		p.pendingIDs = append(p.pendingIDs, ev.ID)

	case types.EventStreamTurnEnd:
		var t types.TurnEndPayload
		if json.Unmarshal(ev.Payload, &t) == nil && t.Turn > st.TurnCount {
			st.TurnCount = t.Turn
		}
		st.Interrupted = false

	case types.EventNotificationInterrupted:
		st.Interrupted = true
	}
}

// flushToolResults commits buffered tool results as one user message, so
// they attribute to the assistant message that requested them.
func (p *projector) flushToolResults() {
	if len(p.pendingResults) == 0 {
		return
	}
	p.messages = append(p.messages, types.Message{
		Role:     "user",
		Content:  p.pendingResults,
		EventIDs: p.pendingIDs,
	})
	p.pendingResults = nil
	p.pendingIDs = nil
}

// appendMessage merges into the previous message when roles match,
// recording every contributing event id.
func (p *projector) appendMessage(role string, content []types.ContentBlock, eventID string) {
	if n := len(p.messages); n > 0 && p.messages[n-1].Role == role {
		last := &p.messages[n-1]
		last.Content = append(last.Content, content...)
		last.EventIDs = append(last.EventIDs, eventID)
		return
	}
	p.messages = append(p.messages, types.Message{
		Role:     role,
		Content:  content,
		EventIDs: []string{eventID},
	})
}

// InjectMissingToolResults appends synthetic error results for assistant
// tool_use blocks that have no matching tool_result, so the transcript
// stays well-formed for providers that validate pairing.
func InjectMissingToolResults(messages []types.Message) []types.Message {
	answered := map[string]bool{}
	for _, m := range messages {
		for _, b := range m.Content {
			if b.Type == "tool_result" {
				answered[b.ToolCallID] = true
			}
		}
	}

	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, m)
		if m.Role != "assistant" {
			continue
		}
		var missing []types.ContentBlock
		for _, b := range m.Content {
			if b.Type == "tool_use" && !answered[b.ID] {
				missing = append(missing, types.ToolResultBlock(b.ID, InterruptedToolResultText, true))
			}
		}
		if len(missing) > 0 {
			out = append(out, types.Message{Role: "user", Content: missing})
		}
	}
	return out
}
