package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/internal/session"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

func setupTestServer(t *testing.T) *Server {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	scripted := provider.NewScripted("scripted", types.ProviderCacheSeparating,
		provider.TextTurn("Hello there.", &types.RawTokenUsage{InputTokens: 10, OutputTokens: 5}),
	)
	svc := session.NewService(st, session.Options{Provider: scripted})

	return New(DefaultConfig(), &types.Config{Model: "scripted/test"}, svc)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func createTestSession(t *testing.T, srv *Server) *types.Session {
	t.Helper()
	w := doRequest(t, srv, "POST", "/session", CreateSessionRequest{
		Title: "test session",
		Model: "scripted/test",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sess types.Session
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	return &sess
}

func TestListSessions_Empty(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, "GET", "/session", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var sessions []types.Session
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected empty list, got %d sessions", len(sessions))
	}
}

func TestCreateSession(t *testing.T) {
	srv := setupTestServer(t)

	sess := createTestSession(t, srv)
	if sess.ID == "" {
		t.Error("Session ID should not be empty")
	}
	if sess.Title != "test session" {
		t.Errorf("Title mismatch: got %s", sess.Title)
	}
	if sess.RootEventID == "" {
		t.Error("Root event should be created with the session")
	}
}

func TestCreateSession_InvalidJSON(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("POST", "/session", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestGetSession(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "GET", "/session/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var retrieved types.Session
	if err := json.NewDecoder(w.Body).Decode(&retrieved); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if retrieved.ID != sess.ID {
		t.Errorf("Session ID mismatch: got %s, want %s", retrieved.ID, sess.ID)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, "GET", "/session/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestPromptAndEvents(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "Hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result session.PromptResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if result.TurnsExecuted != 1 {
		t.Errorf("Expected 1 turn, got %d", result.TurnsExecuted)
	}
	if result.Interrupted {
		t.Error("Prompt should not be interrupted")
	}

	// The log now holds session.start, user message, turn markers,
	// and the assistant message.
	w = doRequest(t, srv, "GET", "/session/"+sess.ID+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var events []types.Event
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	var hasUser, hasAssistant bool
	for _, ev := range events {
		switch ev.Type {
		case types.EventMessageUser:
			hasUser = true
		case types.EventMessageAssistant:
			hasAssistant = true
		}
	}
	if !hasUser || !hasAssistant {
		t.Errorf("Expected user and assistant messages in log, got %d events", len(events))
	}
}

func TestPrompt_MissingText(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestReconstruct(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "Hi"})

	w := doRequest(t, srv, "GET", "/session/"+sess.ID+"/reconstruct", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var state types.SessionState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(state.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(state.Messages))
	}
}

func TestForkSession(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "Hi"})

	// Fork from the session head
	w := doRequest(t, srv, "GET", "/session/"+sess.ID, nil)
	var current types.Session
	if err := json.NewDecoder(w.Body).Decode(&current); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	w = doRequest(t, srv, "POST", "/session/"+sess.ID+"/fork", ForkSessionRequest{
		FromEventID: current.HeadEventID,
		Title:       "forked",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result struct {
		Session types.Session      `json:"session"`
		State   types.SessionState `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if result.Session.ID == sess.ID {
		t.Error("Fork should create a new session")
	}
	if result.Session.ParentSessionID != sess.ID {
		t.Errorf("ParentSessionID mismatch: got %s", result.Session.ParentSessionID)
	}
}

func TestFork_MissingEventID(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "POST", "/session/"+sess.ID+"/fork", ForkSessionRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestArchiveSession(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "DELETE", "/session/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Archived sessions reject prompts
	w = doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "Hi"})
	if w.Code == http.StatusOK {
		t.Error("Archived session should reject prompts")
	}
}

func TestSearchSession(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "tell me about goroutines"})

	w := doRequest(t, srv, "GET", "/session/"+sess.ID+"/search?q=goroutines", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var hits []types.SearchHit
	if err := json.NewDecoder(w.Body).Decode(&hits); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(hits) == 0 {
		t.Error("Expected at least one search hit")
	}
}

func TestSearch_MissingQuery(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, "GET", "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestGetTree(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	doRequest(t, srv, "POST", "/session/"+sess.ID+"/prompt", PromptRequest{Text: "Hi"})

	w := doRequest(t, srv, "GET", "/session/"+sess.ID+"/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var root types.TreeNode
	if err := json.NewDecoder(w.Body).Decode(&root); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if root.Type != types.EventSessionStart {
		t.Errorf("Tree root should be session.start, got %s", root.Type)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, "GET", "/maintenance/schema", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var schema map[string]int
	if err := json.NewDecoder(w.Body).Decode(&schema); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if schema["version"] < 3 {
		t.Errorf("Expected schema version >= 3, got %d", schema["version"])
	}

	w = doRequest(t, srv, "POST", "/maintenance/checkpoint", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	w = doRequest(t, srv, "POST", "/maintenance/prune", PruneRequest{MaxAgeHours: 24})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerifySequences(t *testing.T) {
	srv := setupTestServer(t)
	sess := createTestSession(t, srv)

	w := doRequest(t, srv, "GET", "/maintenance/verify/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if result["valid"] != true {
		t.Errorf("Expected valid sequences, got %v", result)
	}
}

func TestGetConfig_RedactsKeys(t *testing.T) {
	srv := setupTestServer(t)
	srv.appConfig = &types.Config{
		Model: "anthropic/claude-sonnet-4",
		Provider: map[string]types.ProviderConfig{
			"anthropic": {APIKey: "sk-ant-secret", Class: "cache_separating"},
		},
	}

	w := doRequest(t, srv, "GET", "/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	if bytes.Contains(w.Body.Bytes(), []byte("sk-ant-secret")) {
		t.Error("API key should be redacted")
	}

	var cfg map[string]any
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if cfg["model"] != "anthropic/claude-sonnet-4" {
		t.Errorf("Model mismatch: got %v", cfg["model"])
	}
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t)

	w := doRequest(t, srv, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}
