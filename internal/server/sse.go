package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionlog-ai/sessionlog/internal/event"
	"github.com/sessionlog-ai/sessionlog/internal/logging"
)

// WireEvent is the SSE payload envelope: {"type": "...", "properties": {...}}.
type WireEvent struct {
	Type       event.EventType `json:"type"`
	Properties any             `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes an SSE event.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// Write SSE format: event type, data, and blank line
	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// Flush immediately using ResponseController; it works through
	// middleware wrappers where the Flusher interface does not.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// streamEvents is the shared SSE loop; filter selects which bus events
// reach the client (nil means all).
func (srv *Server) streamEvents(w http.ResponseWriter, r *http.Request, filter func(event.Event) bool) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Explicitly write status and flush headers immediately so the
	// client sees the connection before the first event arrives.
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	connected := WireEvent{
		Type:       "server.connected",
		Properties: map[string]any{},
	}
	if err := sse.writeEvent("message", connected); err != nil {
		return
	}

	// Channel for events - small buffer for low-latency streaming
	events := make(chan event.Event, 10)

	unsub := srv.svc.Bus().SubscribeAll(func(e event.Event) {
		if filter != nil && !filter(e) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			data := WireEvent{
				Type:       e.Type,
				Properties: e.Data,
			}
			if err := sse.writeEvent("message", data); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// allEvents handles GET /event: SSE for every bus event.
func (srv *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	srv.streamEvents(w, r, nil)
}

// sessionEvents handles GET /session/{sessionID}/event: SSE filtered to
// one session.
func (srv *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID required")
		return
	}

	srv.streamEvents(w, r, func(e event.Event) bool {
		return eventBelongsToSession(e, sessionID)
	})
}

// eventBelongsToSession checks if an event belongs to a session.
func eventBelongsToSession(e event.Event, sessionID string) bool {
	switch data := e.Data.(type) {
	case event.SessionData:
		return data.SessionID == sessionID
	case event.ForkData:
		return data.SessionID == sessionID || data.SourceSessionID == sessionID
	case event.TurnData:
		return data.SessionID == sessionID
	case event.TurnErrorData:
		return data.SessionID == sessionID
	case event.DeltaData:
		return data.SessionID == sessionID
	case event.RetryData:
		return data.SessionID == sessionID
	case event.MessageData:
		return data.SessionID == sessionID
	case event.CompactionData:
		return data.SessionID == sessionID
	}
	return false
}
