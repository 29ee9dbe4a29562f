// Package diskspace enforces free-space floors on the staging and storage
// volumes.
package diskspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
)

// Usage describes a filesystem's capacity.
type Usage struct {
	Total uint64
	Free  uint64
}

// StatFunc reports usage for the filesystem holding path.
type StatFunc func(path string) (Usage, error)

// Stat reports the bytes available to unprivileged writers.
func Stat(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return Usage{
		Total: st.Blocks * uint64(st.Bsize),
		Free:  st.Bavail * uint64(st.Bsize),
	}, nil
}

// Guard checks one volume against its floor. A shortage episode starts when
// free space drops to the floor or below and ends on the first check above
// it; Wait alerts once per episode. A Guard is owned by one goroutine.
type Guard struct {
	Volume        string
	Path          string
	Floor         uint64
	RetryInterval time.Duration
	Subject       string

	sink    alerts.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	stat    StatFunc
	sleep   func(context.Context, time.Duration) error

	alerted bool
}

// Option customizes a Guard.
type Option func(*Guard)

// WithStat replaces the filesystem free-space query.
func WithStat(fn StatFunc) Option { return func(g *Guard) { g.stat = fn } }

// WithSleep replaces the retry sleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(g *Guard) { g.sleep = fn }
}

// WithMetrics publishes the blocked state.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Guard) { g.metrics = m } }

// NewGuard builds a guard for path.
func NewGuard(volume, path string, floor uint64, retry time.Duration, subject string, sink alerts.Sink, logger *slog.Logger, opts ...Option) *Guard {
	if sink == nil {
		sink = alerts.Discard
	}
	g := &Guard{
		Volume:        volume,
		Path:          path,
		Floor:         floor,
		RetryInterval: retry,
		Subject:       subject,
		sink:          sink,
		logger:        logging.NewComponentLogger(logger, "diskspace").With(logging.String("volume", volume)),
		stat:          Stat,
		sleep:         Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check reports whether free space is above the floor without blocking or alerting.
func (g *Guard) Check() (bool, Usage, error) {
	usage, err := g.stat(g.Path)
	if err != nil {
		return false, Usage{}, err
	}
	return usage.Free > g.Floor, usage, nil
}

// Wait blocks until free space is above the floor. Only ctx cancellation ends
// the wait early; stat errors are logged and retried like a shortage.
func (g *Guard) Wait(ctx context.Context) error {
	for {
		ok, usage, err := g.Check()
		if err == nil && ok {
			if g.alerted {
				g.logger.InfoContext(ctx, "free space restored",
					logging.Uint64("free_bytes", usage.Free),
					logging.String("path", g.Path),
				)
			}
			g.alerted = false
			g.metrics.SetSpaceBlocked(g.Volume, false)
			return nil
		}
		g.metrics.SetSpaceBlocked(g.Volume, true)

		if err != nil {
			logging.WarnWithContext(g.logger, "free space check failed", "disk_stat_failed",
				logging.String("path", g.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "work on this volume is halted until the check succeeds"),
				logging.String(logging.FieldErrorHint, "check that the directory exists and is mounted"),
			)
		} else {
			msg := fmt.Sprintf("Error: No more free space on %s. Only %s left. Processing halted until more space is available.",
				g.Path, humanize.IBytes(usage.Free))
			logging.ErrorWithContext(g.logger, msg, "disk_space_low",
				logging.Uint64("free_bytes", usage.Free),
				logging.Uint64("floor_bytes", g.Floor),
				logging.String(logging.FieldErrorHint, "free space on the volume; processing resumes automatically"),
			)
			if !g.alerted {
				if err := g.sink.Send(ctx, g.Subject, msg); err != nil {
					g.logger.ErrorContext(ctx, "failed to send space alert", logging.Error(err))
				}
				g.alerted = true
			}
		}

		if err := g.sleep(ctx, g.RetryInterval); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
