// Package verification checks transferred files for plausibility and forwards
// every file to storage regardless of the outcome.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/queue"
	"daqpull/internal/services"
	"daqpull/internal/stage"
	"daqpull/internal/verification/samples"
)

func isUnsupported(err error) bool { return errors.Is(err, samples.ErrUnsupportedFormat) }

// Stage consumes the verification channel.
type Stage struct {
	checker *Checker
	verify  *queue.Channel[queue.VerifyItem]
	storage *queue.Channel[queue.StoreItem]
	stats   *queue.Channel[queue.StatsItem]
	sink    alerts.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewStage wires the verification stage.
func NewStage(
	cfg *config.Config,
	checker *Checker,
	verify *queue.Channel[queue.VerifyItem],
	storage *queue.Channel[queue.StoreItem],
	stats *queue.Channel[queue.StatsItem],
	sink alerts.Sink,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Stage {
	return &Stage{
		checker: checker,
		verify:  verify,
		storage: storage,
		stats:   stats,
		sink:    sink,
		logger:  logging.NewComponentLogger(logger, "verification"),
		metrics: m,
		timeout: cfg.StageTimeout(),
	}
}

func (s *Stage) Name() string { return "verification" }

// Run processes items until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	ctx = services.WithStage(ctx, "verification")
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}

// Step handles at most one item. The head stays claimable unless it was
// forwarded to storage and acknowledged.
func (s *Stage) Step(ctx context.Context) (err error) {
	ok, err := stage.AwaitWork(ctx, s.verify, s.timeout, alerts.SubjectNoFilesVerified, "verified", s.sink, s.logger)
	if err != nil || !ok {
		return err
	}
	defer stage.PushRefresh(ctx, s.stats, &err)
	acked := false
	defer func() {
		if !acked {
			s.verify.Release()
		}
	}()

	entry, err := s.verify.Peek(ctx)
	if err != nil {
		return fmt.Errorf("peek verification channel: %w", err)
	}
	item := entry.Item
	itemCtx := services.WithUnit(ctx, item.Hostname)
	if item.CorrelationID != "" {
		itemCtx = services.WithCorrelationID(itemCtx, item.CorrelationID)
	}
	logger := logging.WithContext(itemCtx, s.logger)

	s.inspect(itemCtx, logger, item)

	next := queue.StoreItem{SourcePath: item.SourcePath, DestinationDir: item.DestinationDir, CorrelationID: item.CorrelationID}
	if err := s.storage.Push(ctx, next); err != nil {
		return fmt.Errorf("forward to storage: %w", err)
	}
	if err := s.verify.Ack(ctx, entry); err != nil {
		return fmt.Errorf("ack verification item: %w", err)
	}
	acked = true
	return nil
}

// inspect runs the checks and reports findings. Reader panics are contained
// so a corrupt file cannot stop the stage.
func (s *Stage) inspect(ctx context.Context, logger *slog.Logger, item queue.VerifyItem) {
	base := filepath.Base(item.SourcePath)
	report, err := s.checkSafely(item)
	if err != nil {
		logging.ErrorWithContext(logger, "verifying file failed", "verification_failed",
			logging.String("file", item.SourcePath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file is stored without plausibility checks"),
		)
		s.alert(ctx, logger, alerts.SubjectException, fmt.Sprintf("Verifying file %s failed: %v", item.SourcePath, err))
		return
	}

	if report.ChannelsSkipped {
		logger.Info("channel checks skipped; no reader for this format", logging.String("file", base))
	}
	if report.OK() {
		logger.Info("file passed verification",
			logging.String("file", base),
			logging.Int("channels", report.ChannelsChecked),
			logging.Int64("bytes", report.Size),
		)
		return
	}
	for _, f := range report.Findings {
		s.metrics.Finding(f.Kind)
	}
	logging.WarnWithContext(logger, "file failed plausibility checks", "verification_findings",
		logging.String("file", base),
		logging.String("findings", report.Summary()),
		logging.String(logging.FieldImpact, "file is stored anyway"),
		logging.String(logging.FieldErrorHint, "inspect the unit's sensors and recording settings"),
	)
	s.alert(ctx, logger, alerts.SubjectFileErrors, fmt.Sprintf("%s\n\n%s", base, report.Summary()))
}

func (s *Stage) checkSafely(item queue.VerifyItem) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking %s: %v", item.SourcePath, r)
		}
	}()
	return s.checker.Check(item.Hostname, item.SourcePath)
}

func (s *Stage) alert(ctx context.Context, logger *slog.Logger, subject, body string) {
	if err := s.sink.Send(ctx, subject, body); err != nil {
		logger.Error("failed to send alert", logging.Alert(subject), logging.Error(err))
	}
}
