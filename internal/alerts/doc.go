// Package alerts delivers operator alerts.
//
// Pipeline components depend only on Sink. The daemon wires a Dispatcher,
// which suppresses repeats inside the dedup window, writes every alert to a
// durable spool, and drains the spool through the configured Transport (log,
// SMTP, or ntfy). Alerts that cannot be delivered stay spooled and are retried.
package alerts
