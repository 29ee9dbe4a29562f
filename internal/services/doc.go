// Package services defines shared utilities consumed by the pipeline stages
// and the remote transfer client.
//
// Key responsibilities:
//   - Context helpers that stamp unit hostnames, stage names, and per-file
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     retryable failures from configuration mistakes.
package services
