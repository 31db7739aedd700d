package session

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// TurnState is the orchestrator's per-session state machine position.
type TurnState string

const (
	StateIdle             TurnState = "idle"
	StateAwaitingProvider TurnState = "awaiting_provider"
	StateStreaming        TurnState = "streaming"
	StateToolDispatch     TurnState = "tool_dispatch"
	StateFinalizing       TurnState = "finalizing"
	StateInterrupted      TurnState = "interrupted"
)

// ContentTracker buffers a turn's streaming deltas in memory. Deltas are
// ephemeral: live display and mid-turn catch-up read from here, and only
// the consolidated blocks are persisted at turn end.
type ContentTracker struct {
	mu sync.Mutex

	text      strings.Builder
	textOpen  bool
	blocks    []types.ContentBlock
	thinking  strings.Builder
	signature string

	toolOrder []string
	toolCalls map[string]*toolCallAccum

	seq int64
}

type toolCallAccum struct {
	id   string
	name string
	args strings.Builder
}

// NewContentTracker creates an empty tracker for one turn.
func NewContentTracker() *ContentTracker {
	return &ContentTracker{toolCalls: map[string]*toolCallAccum{}}
}

// AddText appends streamed assistant text.
func (t *ContentTracker) AddText(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.textOpen = true
	t.text.WriteString(delta)
	t.seq++
}

// EndText closes the current text block.
func (t *ContentTracker) EndText() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.textOpen && t.text.Len() > 0 {
		t.blocks = append(t.blocks, types.TextBlock(t.text.String()))
		t.text.Reset()
	}
	t.textOpen = false
}

// AddThinking appends streamed thinking output; the provider signature
// sticks when present.
func (t *ContentTracker) AddThinking(delta, signature string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thinking.WriteString(delta)
	if signature != "" {
		t.signature = signature
	}
	t.seq++
}

// StartToolCall opens accumulation for one tool call.
func (t *ContentTracker) StartToolCall(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.toolCalls[id]; !ok {
		t.toolCalls[id] = &toolCallAccum{id: id, name: name}
		t.toolOrder = append(t.toolOrder, id)
	}
	t.seq++
}

// AddToolCallDelta appends streamed argument JSON for a tool call.
func (t *ContentTracker) AddToolCallDelta(id, args string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tc, ok := t.toolCalls[id]; ok {
		tc.args.WriteString(args)
	}
	t.seq++
}

// Blocks assembles the consolidated content for the turn-end assistant
// message: thinking first, then text, then tool-use blocks in call order.
func (t *ContentTracker) Blocks() []types.ContentBlock {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := []types.ContentBlock{}
	if t.thinking.Len() > 0 {
		out = append(out, types.ThinkingBlock(t.thinking.String(), t.signature))
	}
	out = append(out, t.blocks...)
	if t.textOpen && t.text.Len() > 0 {
		out = append(out, types.TextBlock(t.text.String()))
	}
	for _, id := range t.toolOrder {
		tc := t.toolCalls[id]
		args := tc.args.String()
		if args == "" {
			args = "{}"
		}
		out = append(out, types.ToolUseBlock(tc.id, tc.name, json.RawMessage(args)))
	}
	return out
}

// HasContent reports whether anything streamed this turn.
func (t *ContentTracker) HasContent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.Len() > 0 || len(t.blocks) > 0 || t.thinking.Len() > 0 || len(t.toolOrder) > 0
}

// HasThinking reports whether any thinking output streamed.
func (t *ContentTracker) HasThinking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thinking.Len() > 0
}

// Snapshot returns the current partial text and a monotonically growing
// content sequence, for clients attaching mid-turn.
func (t *ContentTracker) Snapshot() (partial string, contentSeq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, blk := range t.blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	b.WriteString(t.text.String())
	return b.String(), t.seq
}
