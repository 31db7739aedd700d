package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionlog-ai/sessionlog/internal/store"
)

// PruneRequest represents the request body for pruning events.
type PruneRequest struct {
	MaxAgeHours int    `json:"maxAgeHours"`
	TypeGlob    string `json:"typeGlob,omitempty"`
}

// prune handles POST /maintenance/prune
func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.MaxAgeHours <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "maxAgeHours must be positive")
		return
	}

	removed, err := s.store().PruneEvents(store.PruneParams{
		MaxAge:   time.Duration(req.MaxAgeHours) * time.Hour,
		TypeGlob: req.TypeGlob,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// checkpoint handles POST /maintenance/checkpoint
func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.store().Checkpoint(); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// vacuum handles POST /maintenance/vacuum
func (s *Server) vacuum(w http.ResponseWriter, r *http.Request) {
	if err := s.store().Vacuum(); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// schemaVersion handles GET /maintenance/schema
func (s *Server) schemaVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.store().SchemaVersion()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"version": version})
}

// verifySequences handles GET /maintenance/verify/{sessionID}
func (s *Server) verifySequences(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.store().VerifySequences(sessionID); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}
