// Package pipeline drives one reconstruction run for a session.
//
// The Controller walks a fixed sequence of states: retrieve the images,
// wait for background removal, wait for incremental registration to drain,
// run the batch pipeline, and report completion. Every step is reported to
// a protocol.Sink using the client status protocol. The first failure ends
// the run with a single FAILED event.
//
// Polling goes through a Clock so tests can observe ticker lifetimes. The
// batch subprocess runs on the daemon context by default, so a client
// disconnecting mid-run does not discard a reconstruction that is almost
// done; set CancelOnDisconnect to tie it to the request instead.
package pipeline
