package types

import "time"

// Session is the stored, denormalized view of a session. Everything here
// is rebuildable from the event log; the log is authoritative.
type Session struct {
	ID                string    `json:"id"`
	WorkspaceID       string    `json:"workspaceId,omitempty"`
	HeadEventID       string    `json:"headEventId,omitempty"`
	RootEventID       string    `json:"rootEventId,omitempty"`
	ParentSessionID   string    `json:"parentSessionId,omitempty"`
	ForkFromEventID   string    `json:"forkFromEventId,omitempty"`
	Title             string    `json:"title,omitempty"`
	Model             string    `json:"model,omitempty"`
	WorkingDirectory  string    `json:"workingDirectory,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	EventCount        int64     `json:"eventCount"`
	MessageCount      int64     `json:"messageCount"`
	TotalInputTokens  int64     `json:"totalInputTokens"`
	TotalOutputTokens int64     `json:"totalOutputTokens"`
	Archived          bool      `json:"archived"`
}

// Message is one reconstructed conversation entry. EventIDs lists every
// event that contributed to it (adjacent same-role messages merge).
type Message struct {
	Role     string         `json:"role"` // "user" | "assistant" | "system"
	Content  []ContentBlock `json:"content"`
	EventIDs []string       `json:"eventIds"`
	Turn     int            `json:"turn,omitempty"`
}

// SessionState is the derived projection rebuilt by replay. It is never
// persisted directly and never the system of record.
type SessionState struct {
	SessionID        string            `json:"sessionId"`
	HeadEventID      string            `json:"headEventId,omitempty"`
	Messages         []Message         `json:"messages"`
	Model            string            `json:"model,omitempty"`
	ProviderType     string            `json:"providerType,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	TurnCount        int               `json:"turnCount"`
	Tokens           AccumulatedTokens `json:"tokens"`
	CompactedAt      string            `json:"compactedAt,omitempty"` // boundary event id, if replay started there
	Archived         bool              `json:"archived"`
	Interrupted      bool              `json:"interrupted,omitempty"`
}

// Branch is a named pointer into a session's event tree.
type Branch struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Name        string    `json:"name"`
	RootEventID string    `json:"rootEventId"`
	HeadEventID string    `json:"headEventId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Workspace groups sessions by working directory.
type Workspace struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// TreeNode is one node of the session tree visualization.
type TreeNode struct {
	EventID  string      `json:"eventId"`
	Type     EventType   `json:"type"`
	Sequence int64       `json:"sequence"`
	Preview  string      `json:"preview,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// SearchHit is one ranked full-text search result.
type SearchHit struct {
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Sequence  int64     `json:"sequence"`
	Snippet   string    `json:"snippet"`
	Timestamp time.Time `json:"timestamp"`
}
