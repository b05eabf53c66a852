// Package ingest feeds a session's images into its work queues.
//
// In the scan flow a Watcher observes a directory with fsnotify and enqueues
// each settled image for incremental registration. In the upload flow images
// are pushed explicitly and queued for background removal, optionally
// followed by registration. Either way the first queue failure aborts the
// session: both queues stop, further images are refused, and Done closes.
package ingest
