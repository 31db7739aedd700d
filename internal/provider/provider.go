// Package provider defines the closed stream-event vocabulary the engine
// consumes from model backends, plus the retry wrapper around stream
// creation. Concrete HTTP adapters live outside the engine; anything
// satisfying Provider plugs in.
package provider

import (
	"context"
	"encoding/json"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// StreamEvent is the closed vocabulary of events a provider stream may
// yield. Implementations are the types in this package only.
type StreamEvent interface {
	streamEvent()
}

// StartEvent opens a stream.
type StartEvent struct{}

// TextStartEvent opens a text block.
type TextStartEvent struct{}

// TextDeltaEvent carries a chunk of assistant text.
type TextDeltaEvent struct {
	Text string
}

// TextEndEvent closes a text block.
type TextEndEvent struct{}

// ThinkingDeltaEvent carries a chunk of thinking output.
type ThinkingDeltaEvent struct {
	Thinking string
	// Signature arrives on the final delta of a block and must round-trip
	// back to the provider.
	Signature string
}

// ToolCallStartEvent opens a tool call.
type ToolCallStartEvent struct {
	ID   string
	Name string
}

// ToolCallDeltaEvent carries a chunk of tool-call argument JSON.
type ToolCallDeltaEvent struct {
	ID        string
	Arguments string
}

// DoneEvent ends a successful stream with the assembled message.
type DoneEvent struct {
	Content    []types.ContentBlock
	StopReason string
	Usage      *types.RawTokenUsage
}

// ErrorEvent ends a failed stream.
type ErrorEvent struct {
	Err       error
	Retryable bool
}

// RetryEvent reports an in-adapter retry attempt.
type RetryEvent struct {
	Attempt int
	DelayMS int64
}

func (StartEvent) streamEvent()         {}
func (TextStartEvent) streamEvent()     {}
func (TextDeltaEvent) streamEvent()     {}
func (TextEndEvent) streamEvent()       {}
func (ThinkingDeltaEvent) streamEvent() {}
func (ToolCallStartEvent) streamEvent() {}
func (ToolCallDeltaEvent) streamEvent() {}
func (DoneEvent) streamEvent()          {}
func (ErrorEvent) streamEvent()         {}
func (RetryEvent) streamEvent()         {}

// Request is what the engine hands a provider for one turn.
type Request struct {
	SystemPrompt string
	Messages     []types.Message
	Tools        []ToolDefinition
	Model        string
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Provider is a model backend. Stream returns a channel that yields the
// vocabulary above and closes after DoneEvent or ErrorEvent.
type Provider interface {
	Name() string
	Class() types.ProviderClass
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}
