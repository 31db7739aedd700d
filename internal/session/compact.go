package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sessionlog-ai/sessionlog/internal/logging"
	"github.com/sessionlog-ai/sessionlog/internal/reconstruct"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/internal/tokens"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// CompactionConfig controls when and how context is compacted.
type CompactionConfig struct {
	// ContextThreshold is the percentUsed at which compaction triggers.
	ContextThreshold float64
	// MinMessagesToKeep are the trailing messages a summary never covers.
	MinMessagesToKeep int
	// SummaryMaxChars caps the generated summary.
	SummaryMaxChars int
}

// DefaultCompactionConfig returns the built-in thresholds.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ContextThreshold:  0.85,
		MinMessagesToKeep: 4,
		SummaryMaxChars:   4000,
	}
}

// Summarizer produces a summary of a conversation prefix. The keyword
// fallback runs in-process; an LLM-backed one is a collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.Message, maxChars int) (string, error)
}

// CompactionPreview is the dry-run output: the proposed summary and the
// token delta, with nothing mutated.
type CompactionPreview struct {
	Summary         string `json:"summary"`
	TokensBefore    int64  `json:"tokensBefore"`
	EstimatedAfter  int64  `json:"estimatedAfter"`
	MessagesCovered int    `json:"messagesCovered"`
}

// AdmissionResult is the outcome of the pre-turn capacity check.
type AdmissionResult struct {
	CanProceed      bool  `json:"canProceed"`
	NeedsCompaction bool  `json:"needsCompaction"`
	EstimatedTokens int64 `json:"estimatedTokens"`
	ContextLimit    int64 `json:"contextLimit"`
}

// Compactor decides when context is too large and commits non-destructive
// boundary events. One Compactor per Service.
type Compactor struct {
	cfg        CompactionConfig
	st         *store.Store
	summarizer Summarizer

	mu     sync.Mutex
	active map[string]bool // sessions with a compaction in flight
}

// NewCompactor creates a compactor over the store. A nil summarizer gets
// the keyword fallback.
func NewCompactor(st *store.Store, cfg CompactionConfig, summarizer Summarizer) *Compactor {
	if summarizer == nil {
		summarizer = KeywordSummarizer{}
	}
	return &Compactor{cfg: cfg, st: st, summarizer: summarizer, active: map[string]bool{}}
}

// ShouldCompact reports whether the session's window occupancy crossed
// the threshold.
func (c *Compactor) ShouldCompact(tm *tokens.StateManager) bool {
	w := tm.Window()
	return w.MaxSize > 0 && w.PercentUsed >= c.cfg.ContextThreshold
}

// CanAcceptTurn is the admission check: refuse a turn that would overflow
// the window before compaction has a chance to run.
func (c *Compactor) CanAcceptTurn(tm *tokens.StateManager, estimatedResponseTokens int64) AdmissionResult {
	w := tm.Window()
	res := AdmissionResult{
		EstimatedTokens: w.CurrentSize + estimatedResponseTokens,
		ContextLimit:    w.MaxSize,
	}
	if w.MaxSize <= 0 {
		res.CanProceed = true
		return res
	}
	res.NeedsCompaction = w.PercentUsed >= c.cfg.ContextThreshold
	res.CanProceed = res.EstimatedTokens < w.MaxSize
	return res
}

// PreviewCompaction produces the proposed summary and token delta without
// mutating anything.
func (c *Compactor) PreviewCompaction(ctx context.Context, sessionID string, tm *tokens.StateManager) (*CompactionPreview, error) {
	state, err := c.reconstructCurrent(sessionID)
	if err != nil {
		return nil, err
	}
	covered := len(state.Messages) - c.cfg.MinMessagesToKeep
	if covered < 1 {
		covered = len(state.Messages)
	}
	summary, err := c.summarizer.Summarize(ctx, state.Messages[:covered], c.cfg.SummaryMaxChars)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	before := tm.Window().CurrentSize
	return &CompactionPreview{
		Summary:         summary,
		TokensBefore:    before,
		EstimatedAfter:  estimateTokens(summary),
		MessagesCovered: covered,
	}, nil
}

// ConfirmCompaction appends the compact.boundary event carrying the given
// (possibly user-edited) summary. Prior events stay in the log; future
// reconstruction treats the boundary as the effective root. Concurrent
// compactions of the same session are rejected.
func (c *Compactor) ConfirmCompaction(ctx context.Context, sessionID string, tm *tokens.StateManager, editedSummary string) (*types.Event, error) {
	c.mu.Lock()
	if c.active[sessionID] {
		c.mu.Unlock()
		return nil, fmt.Errorf("compaction already in progress for %s", sessionID)
	}
	c.active[sessionID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, sessionID)
		c.mu.Unlock()
	}()

	summary := editedSummary
	edited := editedSummary != ""
	if summary == "" {
		preview, err := c.PreviewCompaction(ctx, sessionID, tm)
		if err != nil {
			return nil, err
		}
		summary = preview.Summary
	}

	before := tm.Window().CurrentSize
	after := estimateTokens(summary)
	ev, err := c.st.Append(sessionID, types.EventCompactBoundary, types.CompactBoundaryPayload{
		Summary:      summary,
		TokensBefore: before,
		TokensAfter:  after,
		Reason:       "threshold",
		Edited:       edited,
	}, nil)
	if err != nil {
		return nil, err
	}
	tm.SetContextSize(after)
	logging.Info().
		Str("session_id", sessionID).
		Int64("tokens_before", before).
		Int64("tokens_after", after).
		Msg("compaction boundary committed")
	return ev, nil
}

// ClearContext appends a context.cleared event. Like compaction it is
// non-destructive; reconstruction simply starts over after it.
func (c *Compactor) ClearContext(sessionID string, tm *tokens.StateManager) (*types.Event, error) {
	ev, err := c.st.Append(sessionID, types.EventContextCleared, types.ContextClearedPayload{
		Reason: "user",
	}, nil)
	if err != nil {
		return nil, err
	}
	tm.SetContextSize(0)
	return ev, nil
}

func (c *Compactor) reconstructCurrent(sessionID string) (*types.SessionState, error) {
	sess, err := c.st.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HeadEventID == "" {
		return &types.SessionState{SessionID: sessionID, Messages: []types.Message{}}, nil
	}
	chain, err := c.st.GetAncestors(sess.HeadEventID)
	if err != nil {
		return nil, err
	}
	res := reconstruct.Reconstruct(sessionID, chain)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.State, nil
}

// estimateTokens approximates token count from text length. Good enough
// for admission and preview figures; the provider's own counters correct
// it on the next turn.
func estimateTokens(text string) int64 {
	return int64(len(text) / 4)
}

// KeywordSummarizer is the dependency-free fallback: it extracts the most
// frequent informative terms per message block and emits a bullet digest.
type KeywordSummarizer struct{}

// Summarize builds a crude extractive summary.
func (KeywordSummarizer) Summarize(_ context.Context, messages []types.Message, maxChars int) (string, error) {
	freq := map[string]int{}
	var lines []string
	for _, m := range messages {
		for _, b := range m.Content {
			text := b.Text
			if b.Type == "tool_result" {
				text = b.Content
			}
			if text == "" {
				continue
			}
			if line := firstLine(text); line != "" {
				lines = append(lines, fmt.Sprintf("- %s: %s", m.Role, line))
			}
			for _, w := range strings.Fields(strings.ToLower(text)) {
				w = strings.Trim(w, ".,;:!?()[]{}\"'`")
				if len(w) > 4 {
					freq[w]++
				}
			}
		}
	}

	type kv struct {
		word  string
		count int
	}
	top := make([]kv, 0, len(freq))
	for w, n := range freq {
		top = append(top, kv{w, n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].count != top[j].count {
			return top[i].count > top[j].count
		}
		return top[i].word < top[j].word
	})
	if len(top) > 12 {
		top = top[:12]
	}
	words := make([]string, 0, len(top))
	for _, t := range top {
		words = append(words, t.word)
	}

	var b strings.Builder
	b.WriteString("Conversation covered: ")
	b.WriteString(strings.Join(words, ", "))
	b.WriteString("\n")
	for _, l := range lines {
		if b.Len()+len(l)+1 > maxChars {
			break
		}
		b.WriteString(l)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func firstLine(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if runes := []rune(line); len(runes) > 100 {
		line = string(runes[:100])
	}
	return line
}
