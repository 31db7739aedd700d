// Package types contains the shared data model for the session engine:
// events, session projections, token accounting, and configuration.
package types

import (
	"encoding/json"
	"time"
)

// EventType identifies an entry in the append-only session log.
// The set is closed; the store rejects types it does not know.
type EventType string

const (
	EventSessionStart  EventType = "session.start"
	EventSessionEnd    EventType = "session.end"
	EventSessionFork   EventType = "session.fork"
	EventSessionBranch EventType = "session.branch"

	EventMessageUser      EventType = "message.user"
	EventMessageAssistant EventType = "message.assistant"
	EventMessageSystem    EventType = "message.system"
	EventMessageDeleted   EventType = "message.deleted"

	EventToolCall   EventType = "tool.call"
	EventToolResult EventType = "tool.result"

	EventContextCleared  EventType = "context.cleared"
	EventCompactBoundary EventType = "compact.boundary"

	EventNotificationInterrupted EventType = "notification.interrupted"
	EventConfigModelSwitch       EventType = "config.model_switch"

	EventStreamTurnStart EventType = "stream.turn_start"
	EventStreamTurnEnd   EventType = "stream.turn_end"
)

// KnownEventTypes lists every type the store accepts.
var KnownEventTypes = []EventType{
	EventSessionStart, EventSessionEnd, EventSessionFork, EventSessionBranch,
	EventMessageUser, EventMessageAssistant, EventMessageSystem, EventMessageDeleted,
	EventToolCall, EventToolResult,
	EventContextCleared, EventCompactBoundary,
	EventNotificationInterrupted, EventConfigModelSwitch,
	EventStreamTurnStart, EventStreamTurnEnd,
}

// IsKnownEventType reports whether t is part of the closed vocabulary.
func IsKnownEventType(t EventType) bool {
	for _, k := range KnownEventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Event is the only unit of truth. Events are immutable once appended;
// parentId may reference an event in a different session (forks).
type Event struct {
	ID          string          `json:"id"`
	ParentID    string          `json:"parentId,omitempty"`
	SessionID   string          `json:"sessionId"`
	WorkspaceID string          `json:"workspaceId,omitempty"`
	Sequence    int64           `json:"sequence"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Checksum    string          `json:"checksum,omitempty"`
}

// ContentBlock is one block of assistant or user content. Exactly one of
// the pointer-ish field groups is populated depending on Type.
type ContentBlock struct {
	Type string `json:"type"` // "text" | "thinking" | "tool_use" | "tool_result" | "image"

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// tool_result
	ToolCallID string `json:"toolCallId,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ThinkingBlock builds a thinking content block with its provider signature.
func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: "thinking", Thinking: thinking, Signature: signature}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Arguments: args}
}

// ToolResultBlock builds a tool_result content block.
func ToolResultBlock(toolCallID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolCallID: toolCallID, Content: content, IsError: isError}
}

// SessionStartPayload is carried by session.start events.
type SessionStartPayload struct {
	Model            string `json:"model,omitempty"`
	Provider         string `json:"provider,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Title            string `json:"title,omitempty"`
}

// SessionForkPayload is carried by session.fork root events. The fork
// point lives in the source session; the event's parentId references it.
type SessionForkPayload struct {
	SourceSessionID string `json:"sourceSessionId"`
	ForkFromEventID string `json:"forkFromEventId"`
	Title           string `json:"title,omitempty"`
}

// UserMessagePayload is carried by message.user events. Content holds
// either typed blocks or, for plain prompts, a single text block.
type UserMessagePayload struct {
	Content []ContentBlock `json:"content"`
	Turn    int            `json:"turn,omitempty"`
}

// AssistantMessagePayload is carried by message.assistant events.
type AssistantMessagePayload struct {
	Content      []ContentBlock `json:"content"`
	Turn         int            `json:"turn,omitempty"`
	Model        string         `json:"model,omitempty"`
	ProviderType string         `json:"providerType,omitempty"`
	StopReason   string         `json:"stopReason,omitempty"`
	Interrupted  bool           `json:"interrupted,omitempty"`
	HasThinking  bool           `json:"hasThinking,omitempty"`
	LatencyMS    int64          `json:"latency,omitempty"`
	TokenUsage   *RawTokenUsage `json:"tokenUsage,omitempty"`
	TokenRecord  *TokenRecord   `json:"tokenRecord,omitempty"`
	CostUSD      float64        `json:"cost,omitempty"`
}

// ToolCallPayload is carried by tool.call events.
type ToolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Turn       int             `json:"turn,omitempty"`
}

// ToolResultPayload is carried by tool.result events.
type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"isError,omitempty"`
	DurationMS int64  `json:"duration,omitempty"`
}

// MessageDeletedPayload is carried by message.deleted events and removes
// a prior message (by originating event id) from reconstruction.
type MessageDeletedPayload struct {
	TargetEventID string `json:"targetEventId"`
}

// CompactBoundaryPayload is carried by compact.boundary events. Prior
// events stay in the log; reconstruction substitutes the summary.
type CompactBoundaryPayload struct {
	Summary      string `json:"summary"`
	TokensBefore int64  `json:"tokensBefore,omitempty"`
	TokensAfter  int64  `json:"tokensAfter,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Edited       bool   `json:"edited,omitempty"`
}

// ContextClearedPayload is carried by context.cleared events.
type ContextClearedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ModelSwitchPayload is carried by config.model_switch events.
type ModelSwitchPayload struct {
	Model        string `json:"model"`
	ProviderType string `json:"providerType,omitempty"`
}

// InterruptedPayload is carried by notification.interrupted marker events.
type InterruptedPayload struct {
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnStartPayload is carried by stream.turn_start events.
type TurnStartPayload struct {
	Turn int `json:"turn"`
}

// TurnEndPayload is carried by stream.turn_end events.
type TurnEndPayload struct {
	Turn         int            `json:"turn"`
	TokenUsage   *RawTokenUsage `json:"tokenUsage,omitempty"`
	TokenRecord  *TokenRecord   `json:"tokenRecord,omitempty"`
	StopReason   string         `json:"stopReason,omitempty"`
	ContextLimit int64          `json:"contextLimit,omitempty"`
	CostUSD      float64        `json:"cost,omitempty"`
}
