package session

import (
	"time"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// InterruptEvent is one entry of the batch an interrupt produces, ready
// for the store to append in order.
type InterruptEvent struct {
	Type    types.EventType
	Payload any
}

// InterruptContext is everything known about a turn at cancellation time.
type InterruptContext struct {
	Turn        int
	Content     []types.ContentBlock
	ToolResults []ToolResult
	Model       string
	Provider    string
	Usage       *types.RawTokenUsage
	Timestamp   time.Time
}

// BuildInterruptEvents deterministically builds the event batch that
// preserves partial work from a cancelled turn: an assistant message only
// if any content streamed, a user message carrying completed tool
// results, and always the trailing interrupted marker. The caller hands
// the batch to the store and supplies the wall clock; nothing here
// appends.
func BuildInterruptEvents(ictx InterruptContext) []InterruptEvent {
	turn := ictx.Turn
	if turn < 1 {
		turn = 1
	}

	var batch []InterruptEvent

	if len(ictx.Content) > 0 {
		hasThinking := false
		for _, b := range ictx.Content {
			if b.Type == "thinking" {
				hasThinking = true
				break
			}
		}
		batch = append(batch, InterruptEvent{
			Type: types.EventMessageAssistant,
			Payload: types.AssistantMessagePayload{
				Content:      ictx.Content,
				Turn:         turn,
				Model:        ictx.Model,
				ProviderType: ictx.Provider,
				StopReason:   "interrupted",
				Interrupted:  true,
				HasThinking:  hasThinking,
				TokenUsage:   ictx.Usage,
			},
		})
	}

	if len(ictx.ToolResults) > 0 {
		blocks := make([]types.ContentBlock, 0, len(ictx.ToolResults))
		for _, r := range ictx.ToolResults {
			blocks = append(blocks, types.ToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		}
		batch = append(batch, InterruptEvent{
			Type:    types.EventMessageUser,
			Payload: types.UserMessagePayload{Content: blocks, Turn: turn},
		})
	}

	batch = append(batch, InterruptEvent{
		Type: types.EventNotificationInterrupted,
		Payload: types.InterruptedPayload{
			Turn:      turn,
			Timestamp: ictx.Timestamp,
		},
	})
	return batch
}
