// Package store persists the session registry and per-run event history in
// SQLite.
//
// Session directories on disk remain the source of truth for images and
// models; the registry records what the daemon knows about each session:
// its ingest flow, the last pipeline state and stage, and the most recent
// failure. Schema changes bump schemaVersion in schema.go; users delete the
// database to adopt the new schema.
package store
