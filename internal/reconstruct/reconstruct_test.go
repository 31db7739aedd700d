package reconstruct

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// fixture appends a conversation through a real store so every event
// carries a valid checksum and parent link.
type fixture struct {
	t    *testing.T
	s    *store.Store
	sess *types.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	sess, _, err := s.CreateSession(store.CreateSessionParams{
		Title: "replay test", Model: "anthropic/claude-sonnet-4", Provider: "anthropic",
	})
	require.NoError(t, err)
	return &fixture{t: t, s: s, sess: sess}
}

func (f *fixture) append(eventType types.EventType, payload any) *types.Event {
	f.t.Helper()
	ev, err := f.s.Append(f.sess.ID, eventType, payload, nil)
	require.NoError(f.t, err)
	return ev
}

func (f *fixture) user(text string, turn int) *types.Event {
	return f.append(types.EventMessageUser, types.UserMessagePayload{
		Content: []types.ContentBlock{types.TextBlock(text)}, Turn: turn,
	})
}

func (f *fixture) assistant(text string, turn int) *types.Event {
	return f.append(types.EventMessageAssistant, types.AssistantMessagePayload{
		Content: []types.ContentBlock{types.TextBlock(text)}, Turn: turn,
	})
}

func (f *fixture) chain() []*types.Event {
	f.t.Helper()
	sess, err := f.s.GetSession(f.sess.ID)
	require.NoError(f.t, err)
	events, err := f.s.GetAncestors(sess.HeadEventID)
	require.NoError(f.t, err)
	return events
}

func (f *fixture) reconstruct() Result {
	return Reconstruct(f.sess.ID, f.chain())
}

func TestReconstructEmpty(t *testing.T) {
	res := Reconstruct("sess_x", nil)
	require.Nil(t, res.Err)
	assert.Empty(t, res.State.Messages)
}

func TestReconstructConversation(t *testing.T) {
	f := newFixture(t)
	f.user("what is two plus two", 1)
	f.assistant("four", 1)
	f.user("and doubled", 2)
	f.assistant("eight", 2)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	st := res.State

	require.Len(t, st.Messages, 4)
	assert.Equal(t, []string{"user", "assistant", "user", "assistant"},
		roles(st.Messages))
	assert.Equal(t, "anthropic/claude-sonnet-4", st.Model)
	assert.Equal(t, "anthropic", st.ProviderType)
	assert.Equal(t, 2, st.TurnCount)
	assert.NotEmpty(t, st.HeadEventID)
}

func TestReconstructDeterministic(t *testing.T) {
	f := newFixture(t)
	f.user("hello", 1)
	f.assistant("hi", 1)

	a := f.reconstruct()
	b := f.reconstruct()
	require.Nil(t, a.Err)
	require.Nil(t, b.Err)
	assert.Equal(t, a.State, b.State)
}

func TestReconstructAfterPrune(t *testing.T) {
	f := newFixture(t)
	f.append(types.EventStreamTurnStart, types.TurnStartPayload{Turn: 1})
	f.user("question", 1)
	f.assistant("answer", 1)
	f.append(types.EventStreamTurnEnd, types.TurnEndPayload{Turn: 1})
	require.NoError(t, f.s.SetArchived(f.sess.ID, true))

	time.Sleep(5 * time.Millisecond)
	n, err := f.s.PruneEvents(store.PruneParams{MaxAge: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 2)
	assert.Equal(t, "question", res.State.Messages[0].Content[0].Text)
	assert.Equal(t, "answer", res.State.Messages[1].Content[0].Text)
}

func TestSameRoleMerging(t *testing.T) {
	f := newFixture(t)
	f.user("part one", 1)
	f.user("part two", 1)
	f.assistant("answer", 1)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 2)

	merged := res.State.Messages[0]
	require.Len(t, merged.Content, 2)
	assert.Equal(t, "part one", merged.Content[0].Text)
	assert.Equal(t, "part two", merged.Content[1].Text)
	assert.Len(t, merged.EventIDs, 2)
}

func TestToolResultsAttachAsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.user("list files", 1)
	f.append(types.EventMessageAssistant, types.AssistantMessagePayload{
		Content: []types.ContentBlock{
			types.ToolUseBlock("call_1", "ls", json.RawMessage(`{"path":"."}`)),
		},
		Turn: 1,
	})
	f.append(types.EventToolResult, types.ToolResultPayload{
		ToolCallID: "call_1", Name: "ls", Content: "main.go",
	})
	f.assistant("one file", 1)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 4)

	result := res.State.Messages[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "call_1", result.Content[0].ToolCallID)
	assert.Equal(t, "main.go", result.Content[0].Content)
}

func TestTrailingToolResultsFlushed(t *testing.T) {
	f := newFixture(t)
	f.user("run it", 1)
	f.append(types.EventMessageAssistant, types.AssistantMessagePayload{
		Content: []types.ContentBlock{
			types.ToolUseBlock("call_1", "run", nil),
		},
		Turn: 1,
	})
	f.append(types.EventToolResult, types.ToolResultPayload{
		ToolCallID: "call_1", Content: "done",
	})

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 3)
	assert.Equal(t, "user", res.State.Messages[2].Role)
}

func TestDeletedMessagesSkipped(t *testing.T) {
	f := newFixture(t)
	f.user("keep", 1)
	target := f.assistant("delete me", 1)
	f.user("also keep", 2)

	_, err := f.s.DeleteMessage(f.sess.ID, target.ID)
	require.NoError(t, err)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 1)
	// The surviving user messages merge once the assistant between them
	// is gone.
	assert.Equal(t, "user", res.State.Messages[0].Role)
	assert.Len(t, res.State.Messages[0].Content, 2)
}

func TestCompactionBoundarySeeding(t *testing.T) {
	f := newFixture(t)
	f.user("long history", 1)
	f.assistant("long reply", 1)
	f.append(types.EventCompactBoundary, types.CompactBoundaryPayload{
		Summary:      "We discussed the project layout.",
		TokensBefore: 50_000,
		TokensAfter:  2_000,
	})
	f.user("continue", 2)
	f.assistant("continuing", 2)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	st := res.State

	require.Len(t, st.Messages, 4)
	assert.NotEmpty(t, st.CompactedAt)

	seed := st.Messages[0]
	assert.Equal(t, "user", seed.Role)
	assert.True(t, strings.HasPrefix(seed.Content[0].Text, CompactionSummaryPrefix))
	assert.Contains(t, seed.Content[0].Text, "project layout")

	ack := st.Messages[1]
	assert.Equal(t, "assistant", ack.Role)
	assert.Equal(t, CompactionAckText, ack.Content[0].Text)

	assert.Equal(t, "continue", st.Messages[2].Content[0].Text)
}

func TestLatestBoundaryWins(t *testing.T) {
	f := newFixture(t)
	f.user("one", 1)
	f.append(types.EventCompactBoundary, types.CompactBoundaryPayload{Summary: "first summary"})
	f.user("two", 2)
	f.append(types.EventCompactBoundary, types.CompactBoundaryPayload{Summary: "second summary"})
	f.user("three", 3)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	st := res.State

	require.Len(t, st.Messages, 3)
	assert.Contains(t, st.Messages[0].Content[0].Text, "second summary")
	assert.NotContains(t, st.Messages[0].Content[0].Text, "first summary")
	assert.Equal(t, "three", st.Messages[2].Content[0].Text)
}

func TestContextClearedDropsHistory(t *testing.T) {
	f := newFixture(t)
	f.user("before", 1)
	f.assistant("gone too", 1)
	f.append(types.EventContextCleared, types.ContextClearedPayload{Reason: "user request"})
	f.user("after", 2)

	res := f.reconstruct()
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 1)
	assert.Equal(t, "after", res.State.Messages[0].Content[0].Text)
	assert.Empty(t, res.State.CompactedAt)
}

func TestModelSwitchApplies(t *testing.T) {
	f := newFixture(t)
	f.user("hi", 1)
	f.append(types.EventConfigModelSwitch, types.ModelSwitchPayload{
		Model: "openai/gpt-4o", ProviderType: "openai",
	})

	res := f.reconstruct()
	require.Nil(t, res.Err)
	assert.Equal(t, "openai/gpt-4o", res.State.Model)
	assert.Equal(t, "openai", res.State.ProviderType)
}

func TestInterruptedFlag(t *testing.T) {
	f := newFixture(t)
	f.user("go", 1)
	f.append(types.EventNotificationInterrupted, types.InterruptedPayload{Turn: 1})

	res := f.reconstruct()
	require.Nil(t, res.Err)
	assert.True(t, res.State.Interrupted)

	// A completed turn clears the flag.
	f.user("again", 2)
	f.assistant("done", 2)
	f.append(types.EventStreamTurnEnd, types.TurnEndPayload{Turn: 2})

	res = f.reconstruct()
	require.Nil(t, res.Err)
	assert.False(t, res.State.Interrupted)
	assert.Equal(t, 2, res.State.TurnCount)
}

func TestTokenTotalsFromAssistantUsage(t *testing.T) {
	f := newFixture(t)
	f.user("hi", 1)
	f.append(types.EventMessageAssistant, types.AssistantMessagePayload{
		Content:    []types.ContentBlock{types.TextBlock("hello")},
		Turn:       1,
		TokenUsage: &types.RawTokenUsage{InputTokens: 500, OutputTokens: 100, CacheReadTokens: 200},
	})

	res := f.reconstruct()
	require.Nil(t, res.Err)
	assert.Equal(t, int64(500), res.State.Tokens.InputTokens)
	assert.Equal(t, int64(100), res.State.Tokens.OutputTokens)
	assert.Equal(t, int64(200), res.State.Tokens.CacheReadTokens)
}

func TestChecksumCorruptionStopsReplay(t *testing.T) {
	f := newFixture(t)
	f.user("valid", 1)
	bad := f.assistant("will be corrupted", 1)
	f.user("after corruption", 2)

	events := f.chain()
	for _, ev := range events {
		if ev.ID == bad.ID {
			ev.Payload = json.RawMessage(`{"content":[{"type":"text","text":"tampered"}]}`)
		}
	}

	res := Reconstruct(f.sess.ID, events)
	require.NotNil(t, res.Err)
	assert.Equal(t, bad.ID, res.Err.EventID)
	assert.Contains(t, res.Err.Reason, "checksum")
	assert.Equal(t, bad.Sequence-1, res.Err.LastValidSeq)

	// Everything before the corrupt event still projects.
	require.Len(t, res.State.Messages, 1)
	assert.Equal(t, "valid", res.State.Messages[0].Content[0].Text)
}

func TestParentMismatchDetected(t *testing.T) {
	f := newFixture(t)
	f.user("one", 1)
	f.assistant("two", 1)

	events := f.chain()
	events[2].ParentID = "evt_bogus"

	res := Reconstruct(f.sess.ID, events)
	require.NotNil(t, res.Err)
	assert.Contains(t, res.Err.Reason, "parent mismatch")
}

func TestReconstructAcrossFork(t *testing.T) {
	f := newFixture(t)
	f.user("shared question", 1)
	forkPoint := f.assistant("shared answer", 1)
	f.user("source only", 2)

	fork, _, err := f.s.Fork(f.sess.ID, forkPoint.ID, "fork")
	require.NoError(t, err)
	_, err = f.s.Append(fork.ID, types.EventMessageUser, types.UserMessagePayload{
		Content: []types.ContentBlock{types.TextBlock("fork only")}, Turn: 2,
	}, nil)
	require.NoError(t, err)

	forkSess, err := f.s.GetSession(fork.ID)
	require.NoError(t, err)
	events, err := f.s.GetAncestors(forkSess.HeadEventID)
	require.NoError(t, err)

	res := Reconstruct(fork.ID, events)
	require.Nil(t, res.Err)
	require.Len(t, res.State.Messages, 3)
	assert.Equal(t, "shared question", res.State.Messages[0].Content[0].Text)
	assert.Equal(t, "fork only", res.State.Messages[2].Content[0].Text)
	for _, m := range res.State.Messages {
		for _, c := range m.Content {
			assert.NotEqual(t, "source only", c.Text)
		}
	}
}

func TestInjectMissingToolResults(t *testing.T) {
	messages := []types.Message{
		{Role: "user", Content: []types.ContentBlock{types.TextBlock("go")}},
		{Role: "assistant", Content: []types.ContentBlock{
			types.ToolUseBlock("call_1", "answered", nil),
			types.ToolUseBlock("call_2", "orphaned", nil),
		}},
		{Role: "user", Content: []types.ContentBlock{
			types.ToolResultBlock("call_1", "ok", false),
		}},
	}

	out := InjectMissingToolResults(messages)
	require.Len(t, out, 4)

	injected := out[2]
	assert.Equal(t, "user", injected.Role)
	require.Len(t, injected.Content, 1)
	assert.Equal(t, "call_2", injected.Content[0].ToolCallID)
	assert.Equal(t, InterruptedToolResultText, injected.Content[0].Content)
	assert.True(t, injected.Content[0].IsError)

	// Fully answered transcripts pass through untouched.
	assert.Equal(t, messages[:1], InjectMissingToolResults(messages[:1]))

	none := InjectMissingToolResults(nil)
	assert.Empty(t, none)
}

func roles(messages []types.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Role
	}
	return out
}
