// Package stageparse translates the batch reconstruction pipeline's
// human-readable progress lines into protocol events.
//
// The COLMAP and OpenMVS wrapper scripts print step headers such as
// "#5. Create MVS Scene" and per-image progress such as
// "Undistorting image [12/40]". Parse recognises a fixed table of these
// strings; anything else yields no event. Parse is pure and safe to call
// from any goroutine.
package stageparse
