// Package testutil provides helpers for end-to-end engine tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/joho/godotenv"

	"github.com/sessionlog-ai/sessionlog/internal/provider"
	"github.com/sessionlog-ai/sessionlog/internal/server"
	"github.com/sessionlog-ai/sessionlog/internal/session"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// TestServer wraps a live engine instance behind httptest.
type TestServer struct {
	Server   *server.Server
	HTTP     *httptest.Server
	Store    *store.Store
	Service  *session.Service
	Provider *provider.Scripted
}

// Option configures StartTestServer.
type Option func(*config)

type config struct {
	turns [][]provider.StreamEvent
}

// WithScript replaces the provider script.
func WithScript(turns ...[]provider.StreamEvent) Option {
	return func(c *config) {
		c.turns = turns
	}
}

// StartTestServer starts an in-memory engine with a scripted provider.
// The caller must Close it.
func StartTestServer(opts ...Option) (*TestServer, error) {
	_ = godotenv.Load("../../.env")

	cfg := &config{
		turns: [][]provider.StreamEvent{
			provider.TextTurn("Scripted reply.", &types.RawTokenUsage{InputTokens: 20, OutputTokens: 10}),
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	scripted := provider.NewScripted("scripted", types.ProviderCacheSeparating, cfg.turns...)
	svc := session.NewService(st, session.Options{Provider: scripted})

	srv := server.New(server.DefaultConfig(), &types.Config{Model: "scripted/test"}, svc)
	httpSrv := httptest.NewServer(srv.Router())

	return &TestServer{
		Server:   srv,
		HTTP:     httpSrv,
		Store:    st,
		Service:  svc,
		Provider: scripted,
	}, nil
}

// Close shuts down the server and store.
func (ts *TestServer) Close() {
	ts.HTTP.Close()
	ts.Store.Close()
}

// Client returns an API client bound to this server.
func (ts *TestServer) Client() *TestClient {
	return &TestClient{baseURL: ts.HTTP.URL, http: ts.HTTP.Client()}
}

// TestClient is a thin JSON client over the engine API.
type TestClient struct {
	baseURL string
	http    *http.Client
}

// Do sends a request and decodes the JSON response into out (if non-nil).
func (c *TestClient) Do(method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// CreateSession creates a session and returns it.
func (c *TestClient) CreateSession(title string) (*types.Session, error) {
	var sess types.Session
	status, err := c.Do("POST", "/session", map[string]string{
		"title": title,
		"model": "scripted/test",
	}, &sess)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("create session: status %d", status)
	}
	return &sess, nil
}

// Prompt sends a prompt and returns the loop result.
func (c *TestClient) Prompt(sessionID, text string) (*session.PromptResult, int, error) {
	var result session.PromptResult
	status, err := c.Do("POST", "/session/"+sessionID+"/prompt", map[string]string{"text": text}, &result)
	return &result, status, err
}

// Reconstruct replays the session log into a state.
func (c *TestClient) Reconstruct(sessionID string) (*types.SessionState, int, error) {
	var state types.SessionState
	status, err := c.Do("GET", "/session/"+sessionID+"/reconstruct", nil, &state)
	return &state, status, err
}

// Events fetches the raw event log.
func (c *TestClient) Events(sessionID string) ([]types.Event, error) {
	var events []types.Event
	status, err := c.Do("GET", "/session/"+sessionID+"/events", nil, &events)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("events: status %d", status)
	}
	return events, nil
}
