package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/queue"
	"daqpull/internal/services"
	"daqpull/internal/stage"
)

// Stage consumes the statistics channel and keeps the report current.
type Stage struct {
	store   *queue.Store
	stats   *queue.Channel[queue.StatsItem]
	tracker *Tracker
	sink    alerts.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	timeout    time.Duration
	reportPath string
	now        func() time.Time
}

// Option customizes a Stage.
type Option func(*Stage)

// WithClock replaces the wall clock used for the active partition.
func WithClock(fn func() time.Time) Option { return func(s *Stage) { s.now = fn } }

// NewStage wires the statistics stage around a loaded tracker.
func NewStage(
	cfg *config.Config,
	store *queue.Store,
	stats *queue.Channel[queue.StatsItem],
	tracker *Tracker,
	sink alerts.Sink,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Stage {
	if sink == nil {
		sink = alerts.Discard
	}
	s := &Stage{
		store:      store,
		stats:      stats,
		tracker:    tracker,
		sink:       sink,
		logger:     logging.NewComponentLogger(logger, "statistics"),
		metrics:    m,
		timeout:    cfg.StageTimeout(),
		reportPath: cfg.Paths.ReportPath,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stage) Name() string { return "statistics" }

// Run processes items until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	ctx = services.WithStage(ctx, "statistics")
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}

// Step consumes at most one item, then evaluates inactivity and rewrites the
// report. The report is refreshed after a stall timeout too.
func (s *Stage) Step(ctx context.Context) error {
	ok, err := stage.AwaitWork(ctx, s.stats, s.timeout, alerts.SubjectNoFilesReceived, "received", s.sink, s.logger)
	if err != nil {
		return err
	}
	if ok {
		if err := s.consume(ctx); err != nil {
			return err
		}
	}
	return s.refresh(ctx)
}

func (s *Stage) consume(ctx context.Context) error {
	acked := false
	defer func() {
		if !acked {
			s.stats.Release()
		}
	}()

	entry, err := s.stats.Peek(ctx)
	if err != nil {
		return fmt.Errorf("peek statistics channel: %w", err)
	}
	if rec := entry.Item.Record; rec != nil {
		s.record(ctx, *rec)
		if err := s.store.SaveHealth(ctx, s.tracker.Snapshot()); err != nil {
			return fmt.Errorf("persist unit health: %w", err)
		}
	}
	if err := s.stats.Ack(ctx, entry); err != nil {
		return fmt.Errorf("ack statistics item: %w", err)
	}
	acked = true
	return nil
}

func (s *Stage) record(ctx context.Context, rec queue.TransferRecord) {
	logger := logging.WithContext(services.WithUnit(ctx, rec.Hostname), s.logger)
	mismatch, err := s.tracker.Apply(rec)
	if err != nil {
		logging.WarnWithContext(logger, "dropping transfer record", "statistics_unknown_unit",
			logging.Error(err),
			logging.String(logging.FieldImpact, "record is not reflected in the report"),
			logging.String(logging.FieldErrorHint, "the unit was removed from the fleet table while records were queued"),
		)
		return
	}
	logger.Debug("transfer recorded",
		logging.Int64("sequence", rec.Sequence),
		logging.Int64("bytes", rec.FileSize),
	)
	if mismatch == nil {
		return
	}
	s.metrics.SequenceMismatch(rec.Hostname)
	logging.WarnWithContext(logger, "sequence mismatch", "sequence_mismatch",
		logging.Int64("expected", mismatch.Expected),
		logging.Int64("received", rec.Sequence),
		logging.String(logging.FieldImpact, "files may be missing or duplicated on the unit"),
		logging.String(logging.FieldErrorHint, "check the unit's recording log for restarts"),
	)
	s.alert(ctx, alerts.SubjectSequenceMismatch, mismatch.Message())
}

func (s *Stage) refresh(ctx context.Context) error {
	depths, err := s.store.Depths(ctx)
	if err != nil {
		return fmt.Errorf("read channel depths: %w", err)
	}
	for name, depth := range depths {
		s.metrics.SetChannelDepth(name, depth)
	}

	now := s.now()
	active, inactive := s.tracker.Partition(now)
	report := BuildReport(now, depths, s.tracker, active, inactive)
	rendered := report.Render()

	if tr := s.tracker.Evaluate(inactive); tr != nil {
		s.metrics.SetInactiveUnits(len(tr.Inactive))
		if tr.Recovered() {
			s.logger.Info("all units operational")
			s.alert(ctx, alerts.SubjectAllOperational, "All units operational.\n\n"+rendered)
		} else {
			logging.WarnWithContext(s.logger, "inactive units detected", "units_inactive",
				logging.String("units", strings.Join(tr.Inactive, ",")),
				logging.String(logging.FieldImpact, "no data is arriving from these units"),
				logging.String(logging.FieldErrorHint, "check power and network of the listed units"),
			)
			s.alert(ctx, alerts.SubjectInactiveUnits,
				fmt.Sprintf("Inactive units detected:\n\n%s\n\n%s", strings.Join(tr.Inactive, "\n"), rendered))
		}
	}

	if err := report.Write(s.reportPath); err != nil {
		logging.WarnWithContext(s.logger, "status report not written", "report_write_failed",
			logging.String("path", s.reportPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the status report is stale"),
		)
	}
	return nil
}

func (s *Stage) alert(ctx context.Context, subject, body string) {
	if err := s.sink.Send(ctx, subject, body); err != nil {
		s.logger.Error("failed to send alert", logging.Alert(subject), logging.Error(err))
	}
}
