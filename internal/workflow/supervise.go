package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/diskspace"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/stage"
)

// Supervisor restarts failed workers.
type Supervisor struct {
	sink       alerts.Sink
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retryAfter time.Duration
	sleep      func(context.Context, time.Duration) error
	onFailure  func(name string, err error)
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorSleep replaces the restart delay.
func WithSupervisorSleep(fn func(context.Context, time.Duration) error) SupervisorOption {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithSupervisorMetrics counts restarts.
func WithSupervisorMetrics(m *metrics.Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// NewSupervisor builds a supervisor that waits retryAfter between restarts.
func NewSupervisor(retryAfter time.Duration, sink alerts.Sink, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	if sink == nil {
		sink = alerts.Discard
	}
	s := &Supervisor{
		sink:       sink,
		logger:     logging.NewComponentLogger(logger, "supervisor"),
		retryAfter: retryAfter,
		sleep:      diskspace.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrWorkerPanic marks a failure recovered from a panic.
var ErrWorkerPanic = errors.New("worker panicked")

// Supervise runs w until ctx is cancelled.
func (s *Supervisor) Supervise(ctx context.Context, w stage.Worker) error {
	logger := s.logger.With(logging.String("worker", w.Name()))
	for {
		err := runGuarded(ctx, w)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("worker returned without error")
		}

		s.metrics.WorkerRestarted(w.Name())
		if s.onFailure != nil {
			s.onFailure(w.Name(), err)
		}
		logging.ErrorWithContext(logger, "worker failed; restarting", "worker_failed",
			logging.Error(err),
			logging.Duration("restart_in", s.retryAfter),
			logging.String(logging.FieldImpact, "work on this worker's channel pauses until restart"),
			logging.String(logging.FieldErrorHint, "inspect the error; held items are retried after restart"),
		)
		body := fmt.Sprintf("Exception in %s:\n\n%v", w.Name(), err)
		if sendErr := s.sink.Send(ctx, alerts.SubjectException, body); sendErr != nil {
			logger.Error("failed to send exception alert", logging.Error(sendErr))
		}

		if err := s.sleep(ctx, s.retryAfter); err != nil {
			return nil
		}
	}
}

func runGuarded(ctx context.Context, w stage.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrWorkerPanic, r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}
