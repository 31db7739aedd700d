package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// getTokens handles GET /session/{sessionID}/tokens
func (s *Server) getTokens(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	tm, err := s.svc.Tokens(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not loaded")
		return
	}

	writeJSON(w, http.StatusOK, tm.Snapshot())
}

// SwitchModelRequest represents the request body for switching models.
type SwitchModelRequest struct {
	Model        string `json:"model"`
	ProviderType string `json:"providerType"`
}

// switchModel handles POST /session/{sessionID}/model
func (s *Server) switchModel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SwitchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "model is required")
		return
	}

	if err := s.svc.SwitchModel(sessionID, req.Model, req.ProviderType); err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeSuccess(w)
}

// clearContext handles POST /session/{sessionID}/clear
func (s *Server) clearContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	ev, err := s.svc.ClearContext(sessionID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// previewCompaction handles POST /session/{sessionID}/compact/preview
func (s *Server) previewCompaction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	tm, err := s.svc.Tokens(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not loaded")
		return
	}

	preview, err := s.svc.Compactor().PreviewCompaction(r.Context(), sessionID, tm)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// ConfirmCompactionRequest represents the request body for confirming
// a compaction, optionally with a user-edited summary.
type ConfirmCompactionRequest struct {
	Summary string `json:"summary,omitempty"`
}

// confirmCompaction handles POST /session/{sessionID}/compact/confirm
func (s *Server) confirmCompaction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ConfirmCompactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	boundary, err := s.svc.Compact(r.Context(), sessionID, req.Summary)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, boundary)
}

// getConfig handles GET /config. API keys are redacted.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	if s.appConfig == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	redacted := *s.appConfig
	if redacted.Provider != nil {
		providers := make(map[string]any, len(redacted.Provider))
		for name, p := range redacted.Provider {
			providers[name] = map[string]any{
				"baseURL":  p.BaseURL,
				"class":    p.Class,
				"disabled": p.Disabled,
				"hasKey":   p.APIKey != "",
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"model":               redacted.Model,
			"contextLimit":        redacted.ContextLimit,
			"compactionThreshold": redacted.CompactionThreshold,
			"databasePath":        redacted.DatabasePath,
			"provider":            providers,
		})
		return
	}

	writeJSON(w, http.StatusOK, redacted)
}
