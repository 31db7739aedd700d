// Package tokens converts incompatible per-provider usage counters into
// provider-independent context-window figures and tracks them per session.
package tokens

import "github.com/sessionlog-ai/sessionlog/pkg/types"

// Normalize converts raw provider counters into the provider-independent
// view. Pure function: no I/O, no mutation.
//
// Cache-separating providers report inputTokens as non-cached tokens
// only, so the window is inputTokens + cacheReadTokens. Cache creation is
// a billing figure and never contributes to context size. Full-context
// providers already report the whole prompt in inputTokens.
func Normalize(raw types.RawTokenUsage, class types.ProviderClass, previousContextSize int64) types.NormalizedTokenUsage {
	var window int64
	method := types.CalcDirect
	if class == types.ProviderCacheSeparating {
		window = raw.InputTokens + raw.CacheReadTokens
		method = types.CalcCacheAware
	} else {
		window = raw.InputTokens
	}

	n := types.NormalizedTokenUsage{
		ContextWindowTokens:     window,
		PreviousContextBaseline: previousContextSize,
		CalculationMethod:       method,
	}

	switch {
	case previousContextSize == 0:
		// First turn: everything is new.
		n.NewInputTokens = window
	case window < previousContextSize:
		// Provider-side truncation or eviction. Never report a negative
		// delta; flag it instead.
		n.NewInputTokens = 0
		n.ShrinkWarning = true
	default:
		n.NewInputTokens = window - previousContextSize
	}
	return n
}

// ClassForProvider maps a provider type name to its accounting class.
// Unknown providers are treated as full-context, the conservative choice.
func ClassForProvider(providerType string) types.ProviderClass {
	switch providerType {
	case "anthropic", "bedrock", "vertex-anthropic":
		return types.ProviderCacheSeparating
	default:
		return types.ProviderFullContext
	}
}
