// Package session owns the live resources of each capture session and the
// registry that finds them by title.
//
// A Session bundles a workspace layout with its two single-worker queues,
// the ingest watcher and, for subject scans, the rembg folder process. Its
// goroutines run on the Manager's context rather than a request context, so
// a client disconnect leaves queued work running until the session is
// released or deleted.
package session
