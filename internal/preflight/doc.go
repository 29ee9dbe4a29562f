// Package preflight provides readiness checks for the paths, binaries, and
// credentials daqpull depends on.
//
// The daemon runs RunAll at startup and logs every failure; it refuses to
// start only when the signing key cannot be used. The CLI "daqpull
// preflight" command prints the same results as a table.
package preflight
