// Package logging assembles structured slog loggers and formatting helpers used
// across daqpull.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so collectors and stages can
// tag log lines with unit hostnames, stage names, and per-file correlation IDs.
// The package also provides a no-op logger for tests and retention pruning for
// per-run log files.
package logging
