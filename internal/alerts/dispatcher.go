package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"daqpull/internal/config"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
)

const defaultRedeliveryInterval = 30 * time.Second

// Dispatcher is the Sink wired into the pipeline.
type Dispatcher struct {
	prefix    string
	window    time.Duration
	retry     time.Duration
	transport Transport
	spool     *Spool
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
	wake   chan struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithRedeliveryInterval sets how long Run waits after a failed delivery.
func WithRedeliveryInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.retry = interval }
}

// WithMetrics records alert outcomes.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher builds a dispatcher. A nil spool delivers synchronously from Send.
func NewDispatcher(cfg *config.Config, transport Transport, spool *Spool, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		prefix:    cfg.Alerts.SubjectPrefix,
		window:    time.Duration(cfg.Alerts.DedupWindowSeconds) * time.Second,
		retry:     defaultRedeliveryInterval,
		transport: transport,
		spool:     spool,
		logger:    logging.NewComponentLogger(logger, "alerts"),
		now:       time.Now,
		recent:    make(map[string]time.Time),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send records the alert in the log and queues it for delivery. Identical
// subject and body pairs inside the dedup window are logged but not sent.
func (d *Dispatcher) Send(ctx context.Context, subject, body string) error {
	now := d.now()
	logger := logging.WithContext(ctx, d.logger)
	if d.suppressed(subject, body, now) {
		logger.Debug("alert suppressed inside dedup window", logging.Alert(subject))
		d.metrics.Alert("deduplicated")
		return nil
	}
	logging.WarnWithContext(logger, "alert raised", "alert_raised",
		logging.Alert(subject),
		logging.String(logging.FieldImpact, "operator notified"),
		logging.String(logging.FieldErrorHint, "see alert body in the operator channel"),
	)

	msg := Compose(d.prefix, subject, body, now)
	if d.spool == nil {
		return d.deliver(ctx, msg)
	}
	if err := d.spool.Push(msg); err != nil {
		d.metrics.Alert("failed")
		return err
	}
	d.metrics.Alert("queued")
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) suppressed(subject, body string, now time.Time) bool {
	if d.window <= 0 {
		return false
	}
	key := subject + "\x00" + body
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, at := range d.recent {
		if now.Sub(at) >= d.window {
			delete(d.recent, k)
		}
	}
	if _, ok := d.recent[key]; ok {
		return true
	}
	d.recent[key] = now
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	if err := d.transport.Deliver(ctx, msg); err != nil {
		d.metrics.Alert("failed")
		return err
	}
	d.metrics.Alert("sent")
	return nil
}

// Flush delivers spooled alerts until the spool is empty or a delivery fails.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d.spool == nil {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, ok, err := d.spool.Peek()
		if errors.Is(err, ErrCorruptEntry) {
			d.logger.Error("dropping undecodable spooled alert", logging.Error(err))
			if err := d.spool.Drop(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := d.deliver(ctx, msg); err != nil {
			return err
		}
		if err := d.spool.Drop(); err != nil {
			return err
		}
	}
}

// Pending reports spooled alerts not yet delivered.
func (d *Dispatcher) Pending() int {
	if d.spool == nil {
		return 0
	}
	return d.spool.Len()
}

// Run drains the spool until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		err := d.Flush(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-d.wake:
			}
			continue
		}
		logging.WarnWithContext(d.logger, "alert delivery failed; will retry", "alert_delivery_failed",
			logging.Error(err),
			logging.Int("pending", d.Pending()),
			logging.String(logging.FieldImpact, "alerts remain spooled until the transport recovers"),
			logging.String(logging.FieldErrorHint, "check alerts.transport settings and connectivity"),
		)
		timer := time.NewTimer(d.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
