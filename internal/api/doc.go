// Package api defines the JSON types served by the daemon's HTTP API and a
// small client the CLI uses to reach it.
//
// # Key Types
//
// Session: a session registry row with its latest status.
//
// LiveSession: an ingesting session with both queue summaries.
//
// Run: a reconstruction in progress.
//
// DaemonStatus: uptime, live sessions, active runs, dependencies and
// preflight results.
//
// # Converters
//
// FromStoreSession, FromStoreEvent, FromQueueStatus and FromRun translate
// internal models without exposing them on the wire.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
