package event

// SessionData is the payload for session lifecycle events.
type SessionData struct {
	SessionID string `json:"sessionId"`
}

// ForkData is the payload for session.forked events.
type ForkData struct {
	SessionID       string `json:"sessionId"`
	SourceSessionID string `json:"sourceSessionId"`
	ForkFromEventID string `json:"forkFromEventId"`
}

// TurnData is the payload for turn lifecycle events.
type TurnData struct {
	SessionID string `json:"sessionId"`
	Turn      int    `json:"turn"`
}

// TurnErrorData is the payload for turn.failed events.
type TurnErrorData struct {
	SessionID string `json:"sessionId"`
	Turn      int    `json:"turn"`
	Error     string `json:"error"`
}

// DeltaData is the payload for stream.delta events. Deltas are ephemeral:
// clients render them live, the store never sees them individually.
type DeltaData struct {
	SessionID string `json:"sessionId"`
	Turn      int    `json:"turn"`
	Kind      string `json:"kind"` // "text" | "thinking" | "toolcall"
	Text      string `json:"text"`
}

// RetryData is the payload for provider.retry events.
type RetryData struct {
	SessionID string `json:"sessionId"`
	Attempt   int    `json:"attempt"`
	DelayMS   int64  `json:"delayMS"`
}

// MessageData is the payload for message.persisted events.
type MessageData struct {
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId"`
	Role      string `json:"role"`
}

// CompactionData is the payload for compaction.done events.
type CompactionData struct {
	SessionID    string `json:"sessionId"`
	TokensBefore int64  `json:"tokensBefore"`
	TokensAfter  int64  `json:"tokensAfter"`
}

// ConfigData is the payload for config.reloaded events.
type ConfigData struct {
	Path string `json:"path"`
}
