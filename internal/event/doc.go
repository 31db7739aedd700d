/*
Package event provides a type-safe pub/sub event system for the engine.

The bus decouples the orchestrator from its observers: turn lifecycle,
ephemeral stream deltas, and session lifecycle notifications flow through
it to the HTTP/SSE layer and to tests, without any component holding a
reference to another. Nothing published here is durable; the event store
owns history.

The package is built on watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It
provides both synchronous and asynchronous publishing.

# Event Types

Session lifecycle:
  - session.created, session.resumed, session.forked, session.archived,
    session.idle

Turn lifecycle:
  - turn.started, turn.completed, turn.failed, turn.interrupted

Streaming:
  - stream.delta: ephemeral text/thinking/toolcall chunks
  - provider.retry: stream-creation retry notices

Persistence:
  - message.persisted: a consolidated message event reached the store
  - compaction.done: a compaction boundary was committed

# Basic Usage

Publishing:

	bus.Publish(event.Event{
		Type: event.TurnStarted,
		Data: event.TurnData{SessionID: id, Turn: 1},
	})

Subscribing:

	unsubscribe := bus.Subscribe(event.StreamDelta, func(e event.Event) {
		d := e.Data.(event.DeltaData)
		render(d.Text)
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run in the publisher's goroutine.
To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks that the publisher might hold

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()

The bus is thread-safe. Asynchronous Publish creates a goroutine per
subscriber per event; PublishSync calls subscribers inline, in order.
*/
package event
