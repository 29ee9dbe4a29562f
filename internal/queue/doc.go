// Package queue persists the pipeline's durable channels and per-unit health
// state in SQLite.
//
// Store owns one database shared by every channel. Channel[T] is a typed FIFO
// over an append log with a persisted consumer offset; consumers Acquire a
// signal, Peek the head, do idempotent work, then Ack. An entry is only ever
// removed by Ack, so work interrupted by a crash is offered again after restart.
//
// Schema changes bump schemaVersion in schema.go. The database holds in-flight
// work, so operators drain the pipeline before moving an old database aside.
package queue
