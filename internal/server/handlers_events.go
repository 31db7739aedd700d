package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// getSessionEvents handles GET /session/{sessionID}/events
func (s *Server) getSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var (
		events []*types.Event
		err    error
	)
	if after := int64(queryInt(r, "after", 0)); after > 0 {
		events, err = s.store().GetEventsSince(sessionID, after)
	} else {
		events, err = s.store().GetSessionEvents(sessionID)
	}
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// getEvent handles GET /event/{eventID}
func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	ev, err := s.store().GetEvent(eventID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Event not found")
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// getAncestors handles GET /event/{eventID}/ancestors
func (s *Server) getAncestors(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	events, err := s.store().GetAncestors(eventID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// getChildren handles GET /event/{eventID}/children
func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	events, err := s.store().GetChildren(eventID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// getSubtree handles GET /event/{eventID}/subtree
func (s *Server) getSubtree(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	direction := store.SubtreeDown
	if r.URL.Query().Get("direction") == "up" {
		direction = store.SubtreeUp
	}
	maxDepth := queryInt(r, "maxDepth", 0)

	events, err := s.store().GetSubtree(eventID, maxDepth, direction)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// getTree handles GET /session/{sessionID}/tree
func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	root, err := s.store().GetTreeVisualization(sessionID, store.TreeOptions{
		MaxDepth:     queryInt(r, "maxDepth", 0),
		MessagesOnly: r.URL.Query().Get("messagesOnly") == "true",
	})
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, root)
}

// getBranches handles GET /session/{sessionID}/branches
func (s *Server) getBranches(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	branches, err := s.store().GetBranches(sessionID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if branches == nil {
		branches = []*types.Branch{}
	}
	writeJSON(w, http.StatusOK, branches)
}

// CreateBranchRequest represents the request body for creating a branch.
type CreateBranchRequest struct {
	Name        string `json:"name"`
	RootEventID string `json:"rootEventId"`
	HeadEventID string `json:"headEventId,omitempty"`
}

// createBranch handles POST /session/{sessionID}/branches
func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || req.RootEventID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name and rootEventId are required")
		return
	}

	branch, err := s.store().CreateBranch(sessionID, req.Name, req.RootEventID, req.HeadEventID)
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, branch)
}

// searchSession handles GET /session/{sessionID}/search
func (s *Server) searchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "q is required")
		return
	}

	hits, err := s.store().SearchInSession(sessionID, query, queryInt(r, "limit", 50))
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if hits == nil {
		hits = []*types.SearchHit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

// searchGlobal handles GET /search
func (s *Server) searchGlobal(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "q is required")
		return
	}

	hits, err := s.store().SearchContent(query, store.SearchFilters{
		SessionID: r.URL.Query().Get("sessionId"),
		TypeGlob:  r.URL.Query().Get("type"),
		Limit:     queryInt(r, "limit", 50),
	})
	if err != nil {
		status, code := errStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	if hits == nil {
		hits = []*types.SearchHit{}
	}
	writeJSON(w, http.StatusOK, hits)
}
