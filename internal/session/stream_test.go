package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTrackerText(t *testing.T) {
	tr := NewContentTracker()
	assert.False(t, tr.HasContent())

	tr.AddText("Hello, ")
	tr.AddText("world")
	tr.EndText()

	blocks := tr.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "Hello, world", blocks[0].Text)
	assert.True(t, tr.HasContent())
}

func TestContentTrackerOpenTextIncluded(t *testing.T) {
	tr := NewContentTracker()
	tr.AddText("partial without end")

	blocks := tr.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "partial without end", blocks[0].Text)
}

func TestContentTrackerOrdering(t *testing.T) {
	tr := NewContentTracker()
	tr.AddText("visible answer")
	tr.EndText()
	tr.AddThinking("reasoning...", "sig_abc")
	tr.StartToolCall("call_1", "ls")
	tr.AddToolCallDelta("call_1", `{"path":`)
	tr.AddToolCallDelta("call_1", `"."}`)

	blocks := tr.Blocks()
	require.Len(t, blocks, 3)
	// Thinking leads, then text, then tool calls in call order.
	assert.Equal(t, "thinking", blocks[0].Type)
	assert.Equal(t, "reasoning...", blocks[0].Thinking)
	assert.Equal(t, "sig_abc", blocks[0].Signature)
	assert.Equal(t, "text", blocks[1].Type)
	assert.Equal(t, "tool_use", blocks[2].Type)
	assert.Equal(t, "call_1", blocks[2].ID)
	assert.Equal(t, "ls", blocks[2].Name)
	assert.JSONEq(t, `{"path":"."}`, string(blocks[2].Arguments))
	assert.True(t, tr.HasThinking())
}

func TestContentTrackerEmptyToolArgs(t *testing.T) {
	tr := NewContentTracker()
	tr.StartToolCall("call_1", "noargs")

	blocks := tr.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "{}", string(blocks[0].Arguments))
}

func TestContentTrackerToolCallOrder(t *testing.T) {
	tr := NewContentTracker()
	tr.StartToolCall("call_b", "second")
	tr.StartToolCall("call_a", "first")
	// Re-registering an id never reorders or duplicates it.
	tr.StartToolCall("call_b", "second")

	blocks := tr.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "call_b", blocks[0].ID)
	assert.Equal(t, "call_a", blocks[1].ID)
}

func TestContentTrackerSnapshot(t *testing.T) {
	tr := NewContentTracker()
	partial, seq := tr.Snapshot()
	assert.Empty(t, partial)
	assert.Zero(t, seq)

	tr.AddText("one ")
	tr.EndText()
	tr.AddText("two")
	partial, seq = tr.Snapshot()
	assert.Equal(t, "one two", partial)
	assert.Equal(t, int64(2), seq)

	// Sequence grows with every delta, including non-text ones.
	tr.AddThinking("t", "")
	_, seq2 := tr.Snapshot()
	assert.Greater(t, seq2, seq)
}
