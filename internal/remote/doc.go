// Package remote lists and pulls acquisition files from units with rsync over
// ssh.
//
// Listing is an rsync dry run filtered to the live and persisted prefixes and
// the configured extension. Transfers are bandwidth capped, resumable
// (--partial), and remove the remote source only after rsync confirms the copy.
// Commands run through an Executor so tests can script rsync output.
package remote
