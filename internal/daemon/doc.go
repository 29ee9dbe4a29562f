// Package daemon owns the lifecycle of the long-running daqpull process.
//
// It enforces a single instance with a flock-based lock in the state
// directory, starts and stops the workflow manager and the alert dispatcher,
// and exposes a status snapshot covering workers, channel depths, and
// database health. Pipeline logic lives in the stage packages.
package daemon
