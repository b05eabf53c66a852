// Package preflight provides readiness checks for the external tools and
// filesystem paths photoscan depends on.
//
// The daemon runs CheckSystemDeps and RunAll before it starts listening and
// refuses to start when a required check fails. The CLI "photoscan status"
// command renders the same results as tables.
package preflight
