package types

// ProviderClass describes how a provider reports input token counts.
type ProviderClass string

const (
	// ProviderCacheSeparating providers (Anthropic-style) report inputTokens
	// as non-cached tokens only, with cache reads and writes counted apart.
	ProviderCacheSeparating ProviderClass = "cache_separating"
	// ProviderFullContext providers (OpenAI/Gemini-style) report inputTokens
	// as the full context already sent.
	ProviderFullContext ProviderClass = "full_context"
)

// CalculationMethod records which formula produced a token record.
type CalculationMethod string

const (
	CalcCacheAware CalculationMethod = "cache_aware"
	CalcDirect     CalculationMethod = "direct"
)

// RawTokenUsage is what a provider adapter reports for one turn, untouched.
type RawTokenUsage struct {
	InputTokens           int64 `json:"inputTokens"`
	OutputTokens          int64 `json:"outputTokens"`
	CacheReadTokens       int64 `json:"cacheReadTokens,omitempty"`
	CacheCreationTokens   int64 `json:"cacheCreationTokens,omitempty"`
	CacheCreation5mTokens int64 `json:"cacheCreation5mTokens,omitempty"`
	CacheCreation1hTokens int64 `json:"cacheCreation1hTokens,omitempty"`
}

// NormalizedTokenUsage is the provider-independent view of one turn.
type NormalizedTokenUsage struct {
	ContextWindowTokens     int64             `json:"contextWindowTokens"`
	NewInputTokens          int64             `json:"newInputTokens"`
	PreviousContextBaseline int64             `json:"previousContextBaseline"`
	CalculationMethod       CalculationMethod `json:"calculationMethod"`
	// ShrinkWarning is set when the reported window came in below the
	// previous baseline (provider-side truncation or eviction).
	ShrinkWarning bool `json:"shrinkWarning,omitempty"`
}

// TokenRecordMeta carries per-turn context for a token record.
type TokenRecordMeta struct {
	SessionID string `json:"sessionId,omitempty"`
	Turn      int    `json:"turn,omitempty"`
	Model     string `json:"model,omitempty"`
}

// TokenRecord is immutable, one per turn: the raw counters plus the
// computed provider-independent figures.
type TokenRecord struct {
	Source   RawTokenUsage        `json:"source"`
	Computed NormalizedTokenUsage `json:"computed"`
	Meta     TokenRecordMeta      `json:"meta"`
}

// AccumulatedTokens are billing totals. They only ever grow, including
// across provider switches and compactions.
type AccumulatedTokens struct {
	InputTokens           int64   `json:"inputTokens"`
	OutputTokens          int64   `json:"outputTokens"`
	CacheReadTokens       int64   `json:"cacheReadTokens"`
	CacheCreationTokens   int64   `json:"cacheCreationTokens"`
	CacheCreation5mTokens int64   `json:"cacheCreation5mTokens"`
	CacheCreation1hTokens int64   `json:"cacheCreation1hTokens"`
	TotalCostUSD          float64 `json:"totalCostUSD"`
}

// ContextWindow is the current occupancy snapshot, recomputed after every
// turn and after compaction.
type ContextWindow struct {
	CurrentSize     int64   `json:"currentSize"`
	MaxSize         int64   `json:"maxSize"`
	PercentUsed     float64 `json:"percentUsed"`
	TokensRemaining int64   `json:"tokensRemaining"`
}

// TokenSnapshot is the persistable form of per-session token state.
type TokenSnapshot struct {
	History       []TokenRecord     `json:"history"`
	Accumulated   AccumulatedTokens `json:"accumulated"`
	ContextWindow ContextWindow     `json:"contextWindow"`
}
