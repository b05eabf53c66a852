// Package daemonctl starts and stops a background photoscan daemon for the
// CLI.
//
// A daemon is considered running when its HTTP API answers GET /api/status.
// Start launches `photoscan serve` detached from the terminal and waits for
// the API. Stop signals the pid recorded under paths.state_dir, escalating to
// SIGKILL after a grace period.
package daemonctl
