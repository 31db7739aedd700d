package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ToolResult is what an executor reports for one tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
	DurationMS int64
	// Interrupted marks results synthesized by cancellation or timeout.
	Interrupted bool
	TimedOut    bool
}

// ToolExecutor runs one tool call. Implementations may run out of
// process; they must honor ctx cancellation.
type ToolExecutor interface {
	Execute(ctx context.Context, toolCallID, name string, args json.RawMessage) ToolResult
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, toolCallID, name string, args json.RawMessage) ToolResult

func (f ToolExecutorFunc) Execute(ctx context.Context, toolCallID, name string, args json.RawMessage) ToolResult {
	return f(ctx, toolCallID, name, args)
}

// ToolCallTracker awaits asynchronous tool completions keyed by tool-call
// id, with cooperative cancellation and per-wait timeouts. A cancellation
// that already fired resolves waits immediately; one arriving during a
// wait resolves it with a well-formed interrupted result.
type ToolCallTracker struct {
	mu      sync.Mutex
	pending map[string]chan ToolResult
}

// NewToolCallTracker creates an empty tracker.
func NewToolCallTracker() *ToolCallTracker {
	return &ToolCallTracker{pending: map[string]chan ToolResult{}}
}

// Register announces an in-flight tool call. Must precede Resolve/Wait.
func (t *ToolCallTracker) Register(toolCallID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[toolCallID]; !ok {
		t.pending[toolCallID] = make(chan ToolResult, 1)
	}
}

// Resolve delivers a result. Unknown or already-resolved ids are dropped.
// The pending entry stays until Wait consumes it, so resolving before the
// collector gets around to waiting loses nothing.
func (t *ToolCallTracker) Resolve(result ToolResult) {
	t.mu.Lock()
	ch, ok := t.pending[result.ToolCallID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// Wait blocks for the result of one call. It resolves with an interrupted
// result when ctx fires (immediately if it already has) and a timed-out
// result when the timeout elapses; it never returns a raw cancellation
// error to the caller.
func (t *ToolCallTracker) Wait(ctx context.Context, toolCallID string, timeout time.Duration) ToolResult {
	t.mu.Lock()
	ch, ok := t.pending[toolCallID]
	t.mu.Unlock()
	if !ok {
		return interruptedResult(toolCallID, "unknown tool call")
	}

	// Fired cancellation resolves before any waiting.
	select {
	case <-ctx.Done():
		t.drop(toolCallID)
		return interruptedResult(toolCallID, "Tool execution was interrupted.")
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case res := <-ch:
		t.drop(toolCallID)
		return res
	case <-ctx.Done():
		t.drop(toolCallID)
		return interruptedResult(toolCallID, "Tool execution was interrupted.")
	case <-timer:
		t.drop(toolCallID)
		return ToolResult{
			ToolCallID: toolCallID,
			Content:    "Tool execution timed out.",
			IsError:    true,
			TimedOut:   true,
		}
	}
}

func (t *ToolCallTracker) drop(toolCallID string) {
	t.mu.Lock()
	delete(t.pending, toolCallID)
	t.mu.Unlock()
}

// PendingCount returns how many calls are still awaited.
func (t *ToolCallTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func interruptedResult(toolCallID, msg string) ToolResult {
	return ToolResult{
		ToolCallID:  toolCallID,
		Content:     msg,
		IsError:     true,
		Interrupted: true,
	}
}
