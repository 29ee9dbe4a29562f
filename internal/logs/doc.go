// Package logs reads the daemon's current log file for the CLI: the last few
// lines, and new lines as they are appended.
package logs
