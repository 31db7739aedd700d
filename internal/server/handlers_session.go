package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sessionlog-ai/sessionlog/internal/session"
	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Title            string `json:"title,omitempty"`
	Model            string `json:"model,omitempty"`
	Provider         string `json:"provider,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	WorkspaceID      string `json:"workspaceId,omitempty"`
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	version, err := s.store().SchemaVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"schemaVersion": version,
	})
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"

	sessions, err := s.store().ListSessions(includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if req.Model == "" && s.appConfig != nil {
		req.Model = s.appConfig.Model
	}

	sess, err := s.svc.Create(store.CreateSessionParams{
		WorkspaceID:      req.WorkspaceID,
		Title:            req.Title,
		Model:            req.Model,
		Provider:         req.Provider,
		WorkingDirectory: req.WorkingDirectory,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.store().GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// archiveSession handles DELETE /session/{sessionID}
func (s *Server) archiveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.svc.Archive(sessionID); err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeSuccess(w)
}

// PromptRequest represents the request body for prompting a session.
type PromptRequest struct {
	Text string `json:"text"`
}

// prompt handles POST /session/{sessionID}/prompt
//
// The response is written when the agentic loop finishes. Clients that
// want streamed deltas subscribe to the session's SSE endpoint.
func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
		return
	}

	result, err := s.svc.Prompt(r.Context(), sessionID, req.Text)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// interrupt handles POST /session/{sessionID}/interrupt
func (s *Server) interrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	interrupted := s.svc.Interrupt(sessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"interrupted": interrupted})
}

// ForkSessionRequest represents the request body for forking a session.
type ForkSessionRequest struct {
	FromEventID string `json:"fromEventId"`
	Title       string `json:"title,omitempty"`
}

// forkSession handles POST /session/{sessionID}/fork
func (s *Server) forkSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ForkSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.FromEventID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "fromEventId is required")
		return
	}

	newSession, state, err := s.svc.Fork(sessionID, req.FromEventID, req.Title)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": newSession,
		"state":   state,
	})
}

// getState handles GET /session/{sessionID}/state
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := s.svc.Snapshot(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not loaded")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// reconstruct handles GET /session/{sessionID}/reconstruct
func (s *Server) reconstruct(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := s.svc.Resume(sessionID)
	if err != nil {
		var integrity *store.IntegrityError
		if errors.As(err, &integrity) {
			writeErrorWithDetails(w, http.StatusConflict, ErrCodeIntegrity, integrity.Error(), map[string]any{
				"eventId":      integrity.EventID,
				"lastValidSeq": integrity.LastValidSeq,
				"lastValidId":  integrity.LastValidID,
			})
			return
		}
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// deleteMessage handles DELETE /session/{sessionID}/message/{eventID}
func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	eventID := chi.URLParam(r, "eventID")

	tombstone, err := s.store().DeleteMessage(sessionID, eventID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tombstone)
}

// errStatus maps engine errors to HTTP status and error codes.
func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, store.ErrSessionArchived):
		return http.StatusConflict, ErrCodeArchived
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict, ErrCodeSessionBusy
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// queryInt reads an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
