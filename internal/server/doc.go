// Package server exposes sessions over HTTP and WebSocket.
//
// /scan and /upload accept base64 image frames from the web client and feed
// them into a session. /process runs the pipeline controller for a session
// and streams every status event back over the socket until the terminal
// COMPLETED or FAILED message. The remaining routes serve the sparse
// snapshot and finished model files, delete sessions, and report daemon
// status as JSON for the CLI.
//
// Every socket has exactly one writer goroutine fed by a buffered channel,
// so slow clients never block the controller or the ingestion queues.
package server
