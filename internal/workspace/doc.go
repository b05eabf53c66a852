// Package workspace owns the on-disk layout of reconstruction sessions.
//
// Every session lives in one directory under the uploads root, named by its
// title:
//
//	<uploads>/<title>/images/             raw frames as received
//	<uploads>/<title>/images_without_bg/  rembg output
//	<uploads>/<title>/output/             COLMAP and OpenMVS workspace
//
// Layout refuses titles that would escape the uploads root, so no session can
// read or write another session's tree.
package workspace
