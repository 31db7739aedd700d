// Package session is the orchestrator: it owns session lifecycle, drives
// the turn state machine over a provider stream, dispatches tool calls,
// and persists consolidated event batches through the store. Interrupt
// and compaction handling live here too.
package session
