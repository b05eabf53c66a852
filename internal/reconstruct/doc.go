// Package reconstruct runs the batch COLMAP/OpenMVS pipeline for one session
// and translates its stdout into status events.
//
// A run is one subprocess. Its output is parsed line by line with
// stageparse; progress events are forwarded to a protocol.Sink as they
// arrive, while failure lines are folded into the returned error so the
// caller emits a single terminal event.
package reconstruct
