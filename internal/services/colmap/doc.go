// Package colmap drives the incremental registration script that adds one
// image at a time to a session's COLMAP reconstruction.
//
// The script shares the session's database and sparse model between calls,
// so a Client is used as the Runner of a single-worker registration queue.
package colmap
