package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sessionlog-ai/sessionlog/internal/event"
	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// TurnResult is the outcome of one turn of the agent loop.
type TurnResult struct {
	Turn              int                `json:"turn"`
	StopReason        string             `json:"stopReason,omitempty"`
	Interrupted       bool               `json:"interrupted"`
	IsError           bool               `json:"isError"`
	Error             string             `json:"error,omitempty"`
	ToolCallsExecuted int                `json:"toolCallsExecuted"`
	TokenRecord       *types.TokenRecord `json:"tokenRecord,omitempty"`
	HasToolCalls      bool               `json:"hasToolCalls"`
	LatencyMS         int64              `json:"latencyMS"`
}

// streamOutcome is what draining a provider stream produced.
type streamOutcome struct {
	content     []types.ContentBlock
	stopReason  string
	usage       *types.RawTokenUsage
	toolCalls   []types.ContentBlock
	interrupted bool
	err         error
	yielded     bool // any output observed, which forbids a full retry
}

// runTurn executes a single turn: provider stream, delta accumulation,
// tool dispatch, and the consolidated turn-end event batch.
func (s *Service) runTurn(ctx context.Context, h *handle, turn int) TurnResult {
	start := time.Now()
	h.setState(StateAwaitingProvider)

	if _, err := s.store.Append(h.sessionID, types.EventStreamTurnStart,
		types.TurnStartPayload{Turn: turn}, nil); err != nil {
		return TurnResult{Turn: turn, IsError: true, Error: err.Error()}
	}
	s.publish(event.TurnStarted, event.TurnData{SessionID: h.sessionID, Turn: turn})

	req := provider.Request{
		Messages: h.messages,
		Model:    h.model,
	}

	outcome := s.streamTurn(ctx, h, req, turn)
	latency := time.Since(start).Milliseconds()

	if outcome.interrupted {
		return s.finishInterrupted(h, turn, outcome, nil)
	}
	if outcome.err != nil {
		s.publish(event.TurnFailed, event.TurnErrorData{
			SessionID: h.sessionID, Turn: turn, Error: outcome.err.Error(),
		})
		return TurnResult{Turn: turn, IsError: true, Error: outcome.err.Error(), LatencyMS: latency}
	}

	h.setState(StateFinalizing)

	// Token accounting before persistence so the record rides the events.
	var record *types.TokenRecord
	if outcome.usage != nil {
		r := h.tokens.RecordTurn(*outcome.usage, types.TokenRecordMeta{
			Turn:  turn,
			Model: h.model,
		}, 0)
		record = &r
	}

	hasThinking := false
	for _, b := range outcome.content {
		if b.Type == "thinking" {
			hasThinking = true
		}
	}

	asst := types.AssistantMessagePayload{
		Content:      outcome.content,
		Turn:         turn,
		Model:        h.model,
		ProviderType: h.provider.Name(),
		StopReason:   outcome.stopReason,
		HasThinking:  hasThinking,
		LatencyMS:    latency,
		TokenUsage:   outcome.usage,
		TokenRecord:  record,
	}
	asstEv, err := s.store.Append(h.sessionID, types.EventMessageAssistant, asst, nil)
	if err != nil {
		return TurnResult{Turn: turn, IsError: true, Error: err.Error(), LatencyMS: latency}
	}
	h.appendMessage(types.Message{
		Role: "assistant", Content: outcome.content, EventIDs: []string{asstEv.ID}, Turn: turn,
	})
	// Streamed deltas are committed now; drop the buffer so a later
	// interrupt cannot re-persist them.
	h.resetContent()
	s.publish(event.MessagePersisted, event.MessageData{
		SessionID: h.sessionID, EventID: asstEv.ID, Role: "assistant",
	})

	// Tool dispatch, then one consolidated tool-result user message. The
	// assistant-before-results order lets reconstruction attribute the
	// results to this turn.
	result := TurnResult{
		Turn:         turn,
		StopReason:   outcome.stopReason,
		TokenRecord:  record,
		HasToolCalls: len(outcome.toolCalls) > 0,
		LatencyMS:    latency,
	}
	if len(outcome.toolCalls) > 0 {
		h.setState(StateToolDispatch)
		results, interrupted := s.dispatchTools(ctx, h, outcome.toolCalls, turn)
		// Placeholders the tracker synthesized for cancelled calls never
		// reach the log; reconstruction injects those at read time.
		completed := make([]ToolResult, 0, len(results))
		for _, r := range results {
			if r.Interrupted {
				continue
			}
			completed = append(completed, r)
		}
		result.ToolCallsExecuted = len(completed)
		if err := s.persistToolResults(h, completed, turn); err != nil {
			result.IsError = true
			result.Error = err.Error()
			return result
		}
		if interrupted {
			return s.finishInterrupted(h, turn, streamOutcome{}, nil)
		}
	}

	endPayload := types.TurnEndPayload{
		Turn:         turn,
		TokenUsage:   outcome.usage,
		TokenRecord:  record,
		StopReason:   outcome.stopReason,
		ContextLimit: h.tokens.Window().MaxSize,
	}
	if _, err := s.store.Append(h.sessionID, types.EventStreamTurnEnd, endPayload, nil); err != nil {
		result.IsError = true
		result.Error = err.Error()
		return result
	}
	s.publish(event.TurnCompleted, event.TurnData{SessionID: h.sessionID, Turn: turn})

	logging.Info().
		Str("session_id", h.sessionID).
		Int("turn", turn).
		Int64("latency_ms", latency).
		Str("stop_reason", outcome.stopReason).
		Int("tools", result.ToolCallsExecuted).
		Msg("turn completed")
	return result
}

// streamTurn opens the provider stream and drains it into the turn's
// content tracker, publishing live deltas on the bus. Creation failures
// and streams that error before yielding anything both go back through
// the retry loop; once anything has yielded, errors are terminal for the
// turn: partial output is never retried as if it never happened.
func (s *Service) streamTurn(ctx context.Context, h *handle, req provider.Request, turn int) streamOutcome {
	var out streamOutcome
	err := provider.RetryStream(ctx, s.retry, func(attempt int, delay time.Duration) {
		s.publish(event.ProviderRetry, event.RetryData{
			SessionID: h.sessionID, Attempt: attempt, DelayMS: delay.Milliseconds(),
		})
	}, func() error {
		stream, err := h.provider.Stream(ctx, req)
		if err != nil {
			return err
		}
		h.setState(StateStreaming)
		out = s.drainStream(ctx, h, stream, turn)
		if out.err != nil && !out.yielded {
			return out.err
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return streamOutcome{interrupted: true}
		}
		return streamOutcome{err: err}
	}
	return out
}

// drainStream consumes one provider stream to completion or cancellation.
func (s *Service) drainStream(ctx context.Context, h *handle, stream <-chan provider.StreamEvent, turn int) streamOutcome {
	var out streamOutcome
	for {
		select {
		case <-ctx.Done():
			out.interrupted = true
			return out
		case ev, open := <-stream:
			if !open {
				if out.stopReason == "" && out.err == nil {
					out.err = errStreamTruncated
				}
				return out
			}
			switch e := ev.(type) {
			case provider.TextDeltaEvent:
				out.yielded = true
				h.content.AddText(e.Text)
				s.publish(event.StreamDelta, event.DeltaData{
					SessionID: h.sessionID, Turn: turn, Kind: "text", Text: e.Text,
				})
			case provider.TextEndEvent:
				out.yielded = true
				h.content.EndText()
			case provider.ThinkingDeltaEvent:
				out.yielded = true
				h.content.AddThinking(e.Thinking, e.Signature)
				s.publish(event.StreamDelta, event.DeltaData{
					SessionID: h.sessionID, Turn: turn, Kind: "thinking", Text: e.Thinking,
				})
			case provider.ToolCallStartEvent:
				out.yielded = true
				h.content.StartToolCall(e.ID, e.Name)
			case provider.ToolCallDeltaEvent:
				out.yielded = true
				h.content.AddToolCallDelta(e.ID, e.Arguments)
				s.publish(event.StreamDelta, event.DeltaData{
					SessionID: h.sessionID, Turn: turn, Kind: "toolcall", Text: e.Arguments,
				})
			case provider.DoneEvent:
				out.yielded = true
				out.stopReason = e.StopReason
				out.usage = e.Usage
				out.content = e.Content
				if len(out.content) == 0 {
					out.content = h.content.Blocks()
				}
				for _, b := range out.content {
					if b.Type == "tool_use" {
						out.toolCalls = append(out.toolCalls, b)
					}
				}
				return out
			case provider.ErrorEvent:
				out.err = e.Err
				return out
			}
		}
	}
}

// dispatchTools runs the turn's tool calls concurrently through the
// tracker, persisting tool.call events upfront in call order.
func (s *Service) dispatchTools(ctx context.Context, h *handle, calls []types.ContentBlock, turn int) ([]ToolResult, bool) {
	for _, c := range calls {
		if _, err := s.store.Append(h.sessionID, types.EventToolCall, types.ToolCallPayload{
			ToolCallID: c.ID, Name: c.Name, Arguments: c.Arguments, Turn: turn,
		}, nil); err != nil {
			logging.Error().Err(err).Str("tool_call_id", c.ID).Msg("persist tool.call failed")
		}
		h.tracker.Register(c.ID)
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c types.ContentBlock) {
			defer wg.Done()
			started := time.Now()
			res := s.executor.Execute(ctx, c.ID, c.Name, argsOrEmpty(c.Arguments))
			res.ToolCallID = c.ID
			if res.Name == "" {
				res.Name = c.Name
			}
			res.DurationMS = time.Since(started).Milliseconds()
			h.tracker.Resolve(res)
		}(c)
	}

	// Collect in original call order.
	results := make([]ToolResult, 0, len(calls))
	interrupted := false
	for _, c := range calls {
		res := h.tracker.Wait(ctx, c.ID, s.toolTimeout)
		if res.Interrupted {
			interrupted = true
		}
		results = append(results, res)
	}
	wg.Wait()
	return results, interrupted
}

// persistToolResults appends the per-call tool.result events followed by
// one message.user event carrying every result block.
func (s *Service) persistToolResults(h *handle, results []ToolResult, turn int) error {
	if len(results) == 0 {
		return nil
	}
	blocks := make([]types.ContentBlock, 0, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ev, err := s.store.Append(h.sessionID, types.EventToolResult, types.ToolResultPayload{
			ToolCallID: r.ToolCallID,
			Name:       r.Name,
			Content:    r.Content,
			IsError:    r.IsError,
			DurationMS: r.DurationMS,
		}, nil)
		if err != nil {
			return err
		}
		ids = append(ids, ev.ID)
		blocks = append(blocks, types.ToolResultBlock(r.ToolCallID, r.Content, r.IsError))
	}
	h.appendMessage(types.Message{Role: "user", Content: blocks, EventIDs: ids, Turn: turn})
	return nil
}

// finishInterrupted persists the interrupt batch built from whatever the
// turn produced and reports the interrupted (non-error) result.
func (s *Service) finishInterrupted(h *handle, turn int, outcome streamOutcome, toolResults []ToolResult) TurnResult {
	h.setState(StateInterrupted)

	content := outcome.content
	if len(content) == 0 {
		content = h.content.Blocks()
	}
	batch := BuildInterruptEvents(InterruptContext{
		Turn:        turn,
		Content:     content,
		ToolResults: toolResults,
		Model:       h.model,
		Provider:    h.provider.Name(),
		Usage:       outcome.usage,
		Timestamp:   time.Now().UTC(),
	})
	for _, ev := range batch {
		if _, err := s.store.Append(h.sessionID, ev.Type, ev.Payload, nil); err != nil {
			logging.Error().Err(err).
				Str("session_id", h.sessionID).
				Str("type", string(ev.Type)).
				Msg("persist interrupt event failed")
		}
	}
	s.publish(event.TurnInterrupted, event.TurnData{SessionID: h.sessionID, Turn: turn})
	logging.Info().Str("session_id", h.sessionID).Int("turn", turn).Msg("turn interrupted")
	return TurnResult{Turn: turn, Interrupted: true, StopReason: "interrupted"}
}

var errStreamTruncated = streamTruncatedError{}

type streamTruncatedError struct{}

func (streamTruncatedError) Error() string { return "provider stream closed without done event" }

// argsOrEmpty normalizes possibly-nil tool arguments.
func argsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}
