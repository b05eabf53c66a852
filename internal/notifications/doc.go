// Package notifications posts ntfy messages when a reconstruction finishes.
//
// NewService returns a no-op Service when no topic is configured, so callers
// never need to check whether notifications are enabled.
package notifications
