// Package workflow runs the pipeline's long-lived workers.
//
// The Manager starts one supervised goroutine per worker: a collector per
// acquisition unit plus the verification, storage, and statistics stages.
// Supervise keeps a worker alive across errors and panics. It logs the
// failure, sends an "Exception caught!" alert, waits error_retry_interval,
// and runs the loop again. Items a worker held when it failed stay at the
// head of their channel and are claimed again on restart.
//
// The worker set is fixed at startup from the unit registry. Only shutdown
// cancels the context; errors never do.
package workflow
