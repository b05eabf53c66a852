// Package logs reads the daemon log for `photoscan logs`.
//
// Last returns the final lines of a file with bounded memory. Follow then
// streams lines appended after an offset, waking on fsnotify write events
// rather than polling. Both resolve the photoscan.log pointer so callers can
// pass the stable path.
package logs
