// Package daemon coordinates the long-running photoscan process.
//
// It wires configuration, the session store, the session manager, the
// pipeline controller and the HTTP server into a single lifecycle, with
// flock-based locking to prevent more than one instance per state
// directory. Start refuses to run when a required external tool is missing
// or a working directory is not writable.
//
// Keep orchestration logic here: ingestion and reconstruction live in their
// own packages while the daemon focuses on startup, shutdown and status.
package daemon
