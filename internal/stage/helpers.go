package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/queue"
)

// AwaitWork acquires the next item signal from ch. When nothing arrives
// within timeout it logs and alerts with subject, then reports false so the
// caller starts a new cycle. verb completes "No file <verb> in the last N minutes".
func AwaitWork[T any](ctx context.Context, ch *queue.Channel[T], timeout time.Duration, subject, verb string, sink alerts.Sink, logger *slog.Logger) (bool, error) {
	ok, err := ch.Acquire(ctx, timeout)
	if err != nil || ok {
		return ok, err
	}
	msg := fmt.Sprintf("Error: No file %s in the last %d minutes!", verb, int(timeout.Minutes()))
	logging.ErrorWithContext(logger, msg, "stage_stalled",
		logging.Channel(ch.Name()),
		logging.Duration("timeout", timeout),
		logging.String(logging.FieldErrorHint, "check upstream workers and unit connectivity"),
	)
	if err := sink.Send(ctx, subject, msg); err != nil {
		logger.Error("failed to send stall alert", logging.Error(err))
	}
	return false, nil
}

// PushRefresh queues the refresh-only statistics item. Stages defer it once
// per acquired item, whatever the outcome, so the report keeps moving while
// a stage is failing. A push failure is joined into *errp.
func PushRefresh(ctx context.Context, stats *queue.Channel[queue.StatsItem], errp *error) {
	if ctx.Err() != nil {
		return
	}
	if err := stats.Push(ctx, queue.StatsItem{}); err != nil {
		*errp = errors.Join(*errp, fmt.Errorf("push statistics sentinel: %w", err))
	}
}
