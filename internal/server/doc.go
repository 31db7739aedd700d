// Package server exposes the session engine over HTTP.
//
// The API is organized around sessions and their event logs:
//
//	POST   /session                             create a session
//	GET    /session                             list sessions
//	GET    /session/{id}                        session row
//	DELETE /session/{id}                        archive (session.end)
//	POST   /session/{id}/prompt                 run the agentic loop
//	POST   /session/{id}/interrupt              cancel the active turn
//	POST   /session/{id}/fork                   fork at an event
//	GET    /session/{id}/state                  live turn/token snapshot
//	GET    /session/{id}/reconstruct            replay the log to a state
//	GET    /session/{id}/events                 raw event log
//	GET    /session/{id}/tree                   tree visualization
//	GET    /session/{id}/branches               named branch pointers
//	GET    /session/{id}/search                 FTS within a session
//	GET    /session/{id}/tokens                 token accounting snapshot
//	POST   /session/{id}/model                  switch models mid-session
//	POST   /session/{id}/clear                  context.cleared boundary
//	POST   /session/{id}/compact/preview        propose a compaction summary
//	POST   /session/{id}/compact/confirm        write the compact.boundary
//	GET    /event/{id}/ancestors|children|subtree  tree navigation
//	GET    /search                              global FTS
//	POST   /maintenance/prune|checkpoint|vacuum store maintenance
//
// Streaming output is delivered over SSE: GET /event carries every bus
// event, GET /session/{id}/event filters to one session. Prompt requests
// block until the loop finishes; clients that want live deltas watch the
// SSE stream alongside.
package server
