// Package rembg mediates access to the rembg background-removal CLI.
//
// Two modes are supported: per-image removal ("rembg i"), used as the
// Runner of a session's removal queue in the upload flow, and whole-folder
// watch mode ("rembg p -w"), which the scan flow keeps running for the
// lifetime of the session while frames stream in.
package rembg
