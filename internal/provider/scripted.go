package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// Scripted is an in-process Provider that plays back predefined turns.
// It backs the engine's tests and the offline/dry-run mode; each call to
// Stream consumes the next script entry.
type Scripted struct {
	mu    sync.Mutex
	name  string
	class types.ProviderClass
	turns [][]StreamEvent
	next  int
	// FailStarts makes the first n Stream calls fail before yielding
	// anything, to exercise creation retry.
	FailStarts int
	calls      int
}

// NewScripted creates a scripted provider of the given accounting class.
func NewScripted(name string, class types.ProviderClass, turns ...[]StreamEvent) *Scripted {
	return &Scripted{name: name, class: class, turns: turns}
}

func (s *Scripted) Name() string               { return s.name }
func (s *Scripted) Class() types.ProviderClass { return s.class }

// Calls returns how many times Stream was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Stream plays back the next scripted turn.
func (s *Scripted) Stream(ctx context.Context, _ Request) (<-chan StreamEvent, error) {
	s.mu.Lock()
	s.calls++
	if s.FailStarts > 0 {
		s.FailStarts--
		s.mu.Unlock()
		return nil, errors.New("scripted stream creation failure")
	}
	if s.next >= len(s.turns) {
		s.mu.Unlock()
		return nil, errors.New("scripted provider exhausted")
	}
	turn := s.turns[s.next]
	s.next++
	s.mu.Unlock()

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range turn {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// TextTurn builds a simple one-shot text response script.
func TextTurn(text string, usage *types.RawTokenUsage) []StreamEvent {
	return []StreamEvent{
		StartEvent{},
		TextStartEvent{},
		TextDeltaEvent{Text: text},
		TextEndEvent{},
		DoneEvent{
			Content:    []types.ContentBlock{types.TextBlock(text)},
			StopReason: "end_turn",
			Usage:      usage,
		},
	}
}

// ToolTurn builds a response that requests one tool call.
func ToolTurn(toolCallID, name, args string, usage *types.RawTokenUsage) []StreamEvent {
	return []StreamEvent{
		StartEvent{},
		ToolCallStartEvent{ID: toolCallID, Name: name},
		ToolCallDeltaEvent{ID: toolCallID, Arguments: args},
		DoneEvent{
			Content: []types.ContentBlock{
				types.ToolUseBlock(toolCallID, name, []byte(args)),
			},
			StopReason: "tool_use",
			Usage:      usage,
		},
	}
}
