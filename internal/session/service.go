package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sessionlog-ai/sessionlog/internal/event"
	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/internal/reconstruct"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/internal/tokens"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// Sentinel errors for the orchestrator.
var (
	// ErrSessionBusy rejects a second concurrent turn on one session.
	ErrSessionBusy = errors.New("session busy: a turn is already active")
	// ErrNoProvider means no provider is registered for the session.
	ErrNoProvider = errors.New("no provider configured")
)

// maxTurnsPerPrompt bounds the agentic loop for a single prompt.
const maxTurnsPerPrompt = 50

// handle is the in-memory state of one loaded session.
type handle struct {
	mu sync.Mutex

	sessionID string
	model     string
	provider  provider.Provider
	tokens    *tokens.StateManager

	messages []types.Message
	state    TurnState
	content  *ContentTracker
	tracker  *ToolCallTracker
	cancel   context.CancelFunc
}

func (h *handle) setState(st TurnState) {
	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
}

func (h *handle) getState() TurnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) appendMessage(m types.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
}

func (h *handle) resetContent() {
	h.mu.Lock()
	h.content = NewContentTracker()
	h.mu.Unlock()
}

// Service is the turn orchestrator. It enforces the one-active-turn
// invariant per session and is the only writer of turn event batches.
type Service struct {
	store     *store.Store
	bus       *event.Bus
	compactor *Compactor
	executor  ToolExecutor
	retry     provider.RetryConfig

	defaultProvider provider.Provider
	contextLimit    int64
	toolTimeout     time.Duration
	autoCompact     bool

	mu       sync.Mutex
	sessions map[string]*handle
}

// Options configure a Service.
type Options struct {
	Provider     provider.Provider
	Executor     ToolExecutor
	Bus          *event.Bus
	Compaction   CompactionConfig
	Summarizer   Summarizer
	Retry        *provider.RetryConfig
	ContextLimit int64
	ToolTimeout  time.Duration
	AutoCompact  bool
}

// NewService creates the orchestrator over a store.
func NewService(st *store.Store, opts Options) *Service {
	retry := provider.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if opts.Compaction.ContextThreshold == 0 {
		opts.Compaction = DefaultCompactionConfig()
	}
	if opts.ContextLimit == 0 {
		opts.ContextLimit = 200_000
	}
	if opts.ToolTimeout == 0 {
		opts.ToolTimeout = 5 * time.Minute
	}
	if opts.Executor == nil {
		opts.Executor = ToolExecutorFunc(func(_ context.Context, id, name string, _ json.RawMessage) ToolResult {
			return ToolResult{ToolCallID: id, Name: name, Content: "tool not available", IsError: true}
		})
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	return &Service{
		store:           st,
		bus:             opts.Bus,
		compactor:       NewCompactor(st, opts.Compaction, opts.Summarizer),
		executor:        opts.Executor,
		retry:           retry,
		defaultProvider: opts.Provider,
		contextLimit:    opts.ContextLimit,
		toolTimeout:     opts.ToolTimeout,
		autoCompact:     opts.AutoCompact,
		sessions:        map[string]*handle{},
	}
}

// Bus exposes the service's event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Store exposes the underlying event store.
func (s *Service) Store() *store.Store { return s.store }

// Compactor exposes the compaction handler.
func (s *Service) Compactor() *Compactor { return s.compactor }

func (s *Service) publish(t event.EventType, data any) {
	s.bus.Publish(event.Event{Type: t, Data: data})
}

// Create creates a durable session and loads its handle.
func (s *Service) Create(p store.CreateSessionParams) (*types.Session, error) {
	sess, _, err := s.store.CreateSession(p)
	if err != nil {
		return nil, err
	}
	h := s.newHandle(sess.ID, sess.Model)
	s.mu.Lock()
	s.sessions[sess.ID] = h
	s.mu.Unlock()
	s.publish(event.SessionCreated, event.SessionData{SessionID: sess.ID})
	return sess, nil
}

// Resume rebuilds the session's projection from its stored event chain
// and loads the handle. Integrity breaks surface as the typed error with
// the last valid state still returned.
func (s *Service) Resume(sessionID string) (*types.SessionState, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	var state *types.SessionState
	var chain []*types.Event
	if sess.HeadEventID == "" {
		state = &types.SessionState{SessionID: sessionID, Messages: []types.Message{}}
	} else {
		chain, err = s.store.GetAncestors(sess.HeadEventID)
		if err != nil {
			return nil, err
		}
		res := reconstruct.Reconstruct(sessionID, chain)
		state = res.State
		if res.Err != nil {
			return state, res.Err
		}
	}
	state.Archived = state.Archived || sess.Archived

	h := s.newHandle(sessionID, firstNonEmpty(state.Model, sess.Model))
	h.messages = reconstruct.InjectMissingToolResults(state.Messages)
	restoreTokenState(h.tokens, chain)
	if interrupted, err := s.store.WasSessionInterrupted(sessionID); err == nil && interrupted {
		state.Interrupted = true
	}

	s.mu.Lock()
	s.sessions[sessionID] = h
	s.mu.Unlock()
	s.publish(event.SessionResumed, event.SessionData{SessionID: sessionID})
	return state, nil
}

// Fork creates a new session rooted at an event of the source session
// and returns its reconstructed state.
func (s *Service) Fork(sourceSessionID, fromEventID, title string) (*types.Session, *types.SessionState, error) {
	sess, _, err := s.store.Fork(sourceSessionID, fromEventID, title)
	if err != nil {
		return nil, nil, err
	}
	state, err := s.Resume(sess.ID)
	if err != nil {
		return nil, nil, err
	}
	s.publish(event.SessionForked, event.ForkData{
		SessionID: sess.ID, SourceSessionID: sourceSessionID, ForkFromEventID: fromEventID,
	})
	return sess, state, nil
}

// PromptResult is the outcome of a whole prompt (one or more turns).
type PromptResult struct {
	SessionID     string      `json:"sessionId"`
	TurnsExecuted int         `json:"turnsExecuted"`
	Interrupted   bool        `json:"interrupted"`
	IsError       bool        `json:"isError"`
	Error         string      `json:"error,omitempty"`
	StopReason    string      `json:"stopReason,omitempty"`
	FinalTurn     *TurnResult `json:"finalTurn,omitempty"`
}

// Prompt runs the agentic loop for one user prompt: persist the user
// message, then turns until the model stops requesting tools, the loop
// cap hits, or cancellation. A session with an active turn rejects the
// call synchronously.
func (s *Service) Prompt(ctx context.Context, sessionID, text string) (*PromptResult, error) {
	h, err := s.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	if h.provider == nil {
		return nil, ErrNoProvider
	}

	// Admission check before touching the provider. A committed boundary
	// must also reseed the prompt context, or the next request would still
	// carry the full pre-boundary history.
	adm := s.compactor.CanAcceptTurn(h.tokens, 0)
	if !adm.CanProceed {
		if !s.autoCompact {
			return nil, fmt.Errorf("context window full: %d of %d tokens", adm.EstimatedTokens, adm.ContextLimit)
		}
		if _, err := s.compactor.ConfirmCompaction(ctx, sessionID, h.tokens, ""); err != nil {
			return nil, fmt.Errorf("auto-compaction: %w", err)
		}
		if err := s.reloadMessages(h); err != nil {
			return nil, fmt.Errorf("auto-compaction: %w", err)
		}
	} else if adm.NeedsCompaction && s.autoCompact {
		if _, err := s.compactor.ConfirmCompaction(ctx, sessionID, h.tokens, ""); err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("auto-compaction failed")
		} else if err := s.reloadMessages(h); err != nil {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("context reseed after compaction failed")
		}
	}

	turn := h.tokens.TurnCount() + 1
	userPayload := types.UserMessagePayload{
		Content: []types.ContentBlock{types.TextBlock(text)},
		Turn:    turn,
	}
	userEv, err := s.store.Append(sessionID, types.EventMessageUser, userPayload, nil)
	if err != nil {
		return nil, err
	}
	h.appendMessage(types.Message{
		Role: "user", Content: userPayload.Content, EventIDs: []string{userEv.ID}, Turn: turn,
	})

	res := &PromptResult{SessionID: sessionID}
	for i := 0; i < maxTurnsPerPrompt; i++ {
		h.resetContent()
		tr := s.runTurn(ctx, h, turn)
		res.TurnsExecuted++
		res.FinalTurn = &tr
		res.StopReason = tr.StopReason

		if tr.Interrupted {
			res.Interrupted = true
			break
		}
		if tr.IsError {
			res.IsError = true
			res.Error = tr.Error
			break
		}
		if !tr.HasToolCalls {
			break
		}
		turn++
	}

	h.setState(StateIdle)
	s.publish(event.SessionIdle, event.SessionData{SessionID: sessionID})
	return res, nil
}

// Interrupt cancels the session's active turn, if any. The turn's own
// goroutine persists the interrupt batch.
func (s *Service) Interrupt(sessionID string) bool {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	cancel := h.cancel
	busy := h.state != StateIdle
	h.mu.Unlock()
	if busy && cancel != nil {
		cancel()
		return true
	}
	return false
}

// State returns a live snapshot: turn state, partial streamed content,
// and the current token window.
type StateSnapshot struct {
	SessionID     string                  `json:"sessionId"`
	TurnState     TurnState               `json:"turnState"`
	PartialText   string                  `json:"partialText,omitempty"`
	ContentSeq    int64                   `json:"contentSequence"`
	ContextWindow types.ContextWindow     `json:"contextWindow"`
	Accumulated   types.AccumulatedTokens `json:"accumulated"`
}

// Snapshot reports the live state of a loaded session.
func (s *Service) Snapshot(sessionID string) (*StateSnapshot, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	partial, seq := h.content.Snapshot()
	return &StateSnapshot{
		SessionID:     sessionID,
		TurnState:     h.getState(),
		PartialText:   partial,
		ContentSeq:    seq,
		ContextWindow: h.tokens.Window(),
		Accumulated:   h.tokens.Accumulated(),
	}, nil
}

// Tokens exposes a loaded session's token state manager.
func (s *Service) Tokens(sessionID string) (*tokens.StateManager, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return h.tokens, nil
}

// SwitchModel records a model switch event and resets the token baseline
// when the provider class changes. The accounting class is tracked on the
// token state, so switching works even when no provider is wired.
func (s *Service) SwitchModel(sessionID, model, providerType string) error {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if _, err := s.store.SetModel(sessionID, model, providerType); err != nil {
		return err
	}
	h.mu.Lock()
	h.model = model
	h.mu.Unlock()
	if newClass := tokens.ClassForProvider(providerType); newClass != h.tokens.Class() {
		h.tokens.OnProviderChange(newClass)
	}
	return nil
}

// Compact commits a compaction boundary for a loaded session and reseeds
// the live prompt context from it, so the next provider request carries
// the summary instead of the covered history.
func (s *Service) Compact(ctx context.Context, sessionID, editedSummary string) (*types.Event, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	ev, err := s.compactor.ConfirmCompaction(ctx, sessionID, h.tokens, editedSummary)
	if err != nil {
		return nil, err
	}
	if err := s.reloadMessages(h); err != nil {
		return nil, err
	}
	s.publish(event.CompactionDone, event.SessionData{SessionID: sessionID})
	return ev, nil
}

// reloadMessages replaces the handle's prompt context with a fresh
// projection of the stored chain.
func (s *Service) reloadMessages(h *handle) error {
	sess, err := s.store.GetSession(h.sessionID)
	if err != nil {
		return err
	}
	msgs := []types.Message{}
	if sess.HeadEventID != "" {
		chain, err := s.store.GetAncestors(sess.HeadEventID)
		if err != nil {
			return err
		}
		res := reconstruct.Reconstruct(h.sessionID, chain)
		if res.Err != nil {
			return res.Err
		}
		msgs = res.State.Messages
	}
	h.mu.Lock()
	h.messages = reconstruct.InjectMissingToolResults(msgs)
	h.mu.Unlock()
	return nil
}

// ClearContext appends a context.cleared event for the session.
func (s *Service) ClearContext(sessionID string) (*types.Event, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
	return s.compactor.ClearContext(sessionID, h.tokens)
}

// Archive ends a session: archived sessions reject appends.
func (s *Service) Archive(sessionID string) error {
	if _, err := s.store.Append(sessionID, types.EventSessionEnd, nil, nil); err != nil {
		return err
	}
	if err := s.store.SetArchived(sessionID, true); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	s.publish(event.SessionArchived, event.SessionData{SessionID: sessionID})
	return nil
}

// acquire loads (or reuses) the handle and claims the turn slot.
func (s *Service) acquire(sessionID string) (*handle, error) {
	s.mu.Lock()
	h, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		if _, err := s.Resume(sessionID); err != nil {
			return nil, err
		}
		s.mu.Lock()
		h = s.sessions[sessionID]
		s.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateIdle {
		return nil, ErrSessionBusy
	}
	h.state = StateAwaitingProvider
	return h, nil
}

func (s *Service) release(h *handle) {
	h.mu.Lock()
	h.state = StateIdle
	h.cancel = nil
	h.mu.Unlock()
}

func (s *Service) newHandle(sessionID, model string) *handle {
	class := types.ProviderFullContext
	if s.defaultProvider != nil {
		class = s.defaultProvider.Class()
	}
	return &handle{
		sessionID: sessionID,
		model:     model,
		provider:  s.defaultProvider,
		tokens:    tokens.NewStateManager(sessionID, class, s.contextLimit),
		state:     StateIdle,
		content:   NewContentTracker(),
		tracker:   NewToolCallTracker(),
	}
}

// restoreTokenState rebuilds the per-turn token history from persisted
// turn-end records so a resumed session keeps its window occupancy, its
// accumulated totals, and its turn numbering. A compaction boundary or
// context clear after the last recorded turn overrides the window size.
func restoreTokenState(tm *tokens.StateManager, chain []*types.Event) {
	var snap types.TokenSnapshot
	boundarySize := int64(-1)
	for _, ev := range chain {
		switch ev.Type {
		case types.EventStreamTurnEnd:
			var p types.TurnEndPayload
			if json.Unmarshal(ev.Payload, &p) != nil || p.TokenRecord == nil {
				continue
			}
			r := *p.TokenRecord
			snap.History = append(snap.History, r)
			snap.Accumulated.InputTokens += r.Source.InputTokens
			snap.Accumulated.OutputTokens += r.Source.OutputTokens
			snap.Accumulated.CacheReadTokens += r.Source.CacheReadTokens
			snap.Accumulated.CacheCreationTokens += r.Source.CacheCreationTokens
			snap.Accumulated.CacheCreation5mTokens += r.Source.CacheCreation5mTokens
			snap.Accumulated.CacheCreation1hTokens += r.Source.CacheCreation1hTokens
			snap.Accumulated.TotalCostUSD += p.CostUSD
			boundarySize = -1
		case types.EventCompactBoundary:
			var b types.CompactBoundaryPayload
			if json.Unmarshal(ev.Payload, &b) == nil {
				boundarySize = b.TokensAfter
			}
		case types.EventContextCleared:
			boundarySize = 0
		}
	}
	if len(snap.History) == 0 && boundarySize < 0 {
		return
	}
	tm.RestoreState(snap)
	if boundarySize >= 0 {
		tm.SetContextSize(boundarySize)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
