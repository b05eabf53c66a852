// Package deps resolves the external tools photoscan drives: the Python
// interpreter, the registration and reconstruction scripts, rembg and
// COLMAP.
package deps
