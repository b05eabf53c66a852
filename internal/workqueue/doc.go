// Package workqueue provides the single-worker FIFO queues that serialize
// per-image external tool invocations for one session.
//
// Background removal and incremental registration both mutate shared
// per-session state on disk (the COLMAP database, the removed-background
// folder), so each Queue runs exactly one item at a time, in enqueue
// order. Results are returned through Ticket futures and summarized by
// Status, which the pipeline controller polls to decide when the batch
// reconstruction may start.
//
// Queues are owned per session. A shared Limiter can additionally throttle
// registrations across sessions when the host cannot run several COLMAP
// processes at once.
package workqueue
