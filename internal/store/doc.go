// Package store is the durable event store: an append-only, checksum-linked
// log of session events in a single SQLite file (WAL mode), with a full-text
// index, denormalized session/branch tables rebuildable from the log, and
// numbered migrations tracked in schema_version.
//
// Nothing outside this package writes session history.
package store
