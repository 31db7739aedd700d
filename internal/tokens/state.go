package tokens

import (
	"sync"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// StateManager accumulates token accounting for one session. Accumulated
// totals only grow; the context baseline is the only derived state a
// provider switch resets.
type StateManager struct {
	mu sync.Mutex

	sessionID   string
	class       types.ProviderClass
	history     []types.TokenRecord
	accumulated types.AccumulatedTokens
	window      types.ContextWindow
}

// NewStateManager creates a manager with the given context limit.
func NewStateManager(sessionID string, class types.ProviderClass, contextLimit int64) *StateManager {
	m := &StateManager{
		sessionID: sessionID,
		class:     class,
	}
	m.window.MaxSize = contextLimit
	m.recomputeWindow()
	return m
}

// RecordTurn normalizes one turn's raw usage against the running baseline,
// folds it into the accumulated totals and history, and returns the
// immutable record.
func (m *StateManager) RecordTurn(raw types.RawTokenUsage, meta types.TokenRecordMeta, costUSD float64) types.TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Baseline is the window size before this turn.
	baseline := m.window.CurrentSize
	computed := Normalize(raw, m.class, baseline)
	if computed.ShrinkWarning {
		logging.Warn().
			Str("session_id", m.sessionID).
			Int64("window", computed.ContextWindowTokens).
			Int64("baseline", baseline).
			Msg("context window shrank; provider-side truncation suspected")
	}

	meta.SessionID = m.sessionID
	record := types.TokenRecord{Source: raw, Computed: computed, Meta: meta}

	m.accumulated.InputTokens += raw.InputTokens
	m.accumulated.OutputTokens += raw.OutputTokens
	m.accumulated.CacheReadTokens += raw.CacheReadTokens
	m.accumulated.CacheCreationTokens += raw.CacheCreationTokens
	m.accumulated.CacheCreation5mTokens += raw.CacheCreation5mTokens
	m.accumulated.CacheCreation1hTokens += raw.CacheCreation1hTokens
	m.accumulated.TotalCostUSD += costUSD

	m.history = append(m.history, record)
	m.window.CurrentSize = computed.ContextWindowTokens
	m.recomputeWindow()
	return record
}

// OnProviderChange resets the context baseline: a different provider's
// inputTokens is not comparable to the previous one's. Accumulated totals
// and history are preserved.
func (m *StateManager) OnProviderChange(newClass types.ProviderClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.class = newClass
	m.window.CurrentSize = 0
	m.recomputeWindow()
}

// SetContextLimit updates the window max and recomputes occupancy.
func (m *StateManager) SetContextLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window.MaxSize = limit
	m.recomputeWindow()
}

// SetContextSize force-sets the current window size, used after
// compaction replaces history with a summary.
func (m *StateManager) SetContextSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window.CurrentSize = size
	m.recomputeWindow()
}

// Snapshot returns a copy of the full token state for persistence.
func (m *StateManager) Snapshot() types.TokenSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]types.TokenRecord, len(m.history))
	copy(history, m.history)
	return types.TokenSnapshot{
		History:       history,
		Accumulated:   m.accumulated,
		ContextWindow: m.window,
	}
}

// RestoreState rehydrates from a persisted snapshot; the window size is
// recomputed from the last history entry.
func (m *StateManager) RestoreState(snap types.TokenSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]types.TokenRecord(nil), snap.History...)
	m.accumulated = snap.Accumulated
	if n := len(m.history); n > 0 {
		m.window.CurrentSize = m.history[n-1].Computed.ContextWindowTokens
	} else {
		m.window.CurrentSize = 0
	}
	m.recomputeWindow()
}

// Class returns the accounting class currently in effect.
func (m *StateManager) Class() types.ProviderClass {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.class
}

// Window returns the current context-window snapshot.
func (m *StateManager) Window() types.ContextWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

// Accumulated returns the billing totals.
func (m *StateManager) Accumulated() types.AccumulatedTokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accumulated
}

// History returns a copy of the per-turn records.
func (m *StateManager) History() []types.TokenRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TokenRecord, len(m.history))
	copy(out, m.history)
	return out
}

// TurnCount returns how many turns have been recorded.
func (m *StateManager) TurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

func (m *StateManager) recomputeWindow() {
	if m.window.MaxSize > 0 {
		m.window.PercentUsed = float64(m.window.CurrentSize) / float64(m.window.MaxSize)
		m.window.TokensRemaining = m.window.MaxSize - m.window.CurrentSize
		if m.window.TokensRemaining < 0 {
			m.window.TokensRemaining = 0
		}
	} else {
		m.window.PercentUsed = 0
		m.window.TokensRemaining = 0
	}
}
