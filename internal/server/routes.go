package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.archiveSession)

			// Conversation
			r.Post("/prompt", s.prompt)
			r.Post("/interrupt", s.interrupt)
			r.Post("/fork", s.forkSession)
			r.Get("/state", s.getState)
			r.Get("/reconstruct", s.reconstruct)

			// Events and history
			r.Get("/events", s.getSessionEvents)
			r.Get("/tree", s.getTree)
			r.Get("/branches", s.getBranches)
			r.Post("/branches", s.createBranch)
			r.Delete("/message/{eventID}", s.deleteMessage)
			r.Get("/search", s.searchSession)

			// Context management
			r.Get("/tokens", s.getTokens)
			r.Post("/model", s.switchModel)
			r.Post("/clear", s.clearContext)
			r.Post("/compact/preview", s.previewCompaction)
			r.Post("/compact/confirm", s.confirmCompaction)

			// Event streaming (SSE), filtered to this session
			r.Get("/event", s.sessionEvents)
		})
	})

	// Event routes (tree navigation from an arbitrary node)
	r.Route("/event/{eventID}", func(r chi.Router) {
		r.Get("/", s.getEvent)
		r.Get("/ancestors", s.getAncestors)
		r.Get("/children", s.getChildren)
		r.Get("/subtree", s.getSubtree)
	})

	// Global search
	r.Get("/search", s.searchGlobal)

	// Maintenance
	r.Route("/maintenance", func(r chi.Router) {
		r.Post("/prune", s.prune)
		r.Post("/checkpoint", s.checkpoint)
		r.Post("/vacuum", s.vacuum)
		r.Get("/schema", s.schemaVersion)
		r.Get("/verify/{sessionID}", s.verifySequences)
	})

	// Configuration introspection
	r.Get("/config", s.getConfig)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
