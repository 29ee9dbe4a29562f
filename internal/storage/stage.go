// Package storage moves verified files from staging into the canonical
// <storage>/<unit>/<yyyy>/<mm>/<dd> tree.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/diskspace"
	"daqpull/internal/fileutil"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/queue"
	"daqpull/internal/services"
	"daqpull/internal/stage"
)

// Outcome labels for the stored-files counter.
const (
	OutcomeMoved   = "moved"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Stage consumes the storage channel.
type Stage struct {
	storage *queue.Channel[queue.StoreItem]
	stats   *queue.Channel[queue.StatsItem]
	guard   *diskspace.Guard
	sink    alerts.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	timeout    time.Duration
	retryAfter time.Duration
	sleep      func(context.Context, time.Duration) error
	move       func(src, dst string) error
}

// Option customizes a Stage.
type Option func(*Stage)

// WithGuardOptions forwards options to the storage volume guard.
func WithGuardOptions(opts ...diskspace.Option) Option {
	return func(s *Stage) {
		for _, opt := range opts {
			opt(s.guard)
		}
	}
}

// WithSleep replaces the error back-off sleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Stage) { s.sleep = fn }
}

// WithMove replaces the file move primitive.
func WithMove(fn func(src, dst string) error) Option {
	return func(s *Stage) { s.move = fn }
}

// NewStage wires the storage stage.
func NewStage(
	cfg *config.Config,
	storage *queue.Channel[queue.StoreItem],
	stats *queue.Channel[queue.StatsItem],
	sink alerts.Sink,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Stage {
	if sink == nil {
		sink = alerts.Discard
	}
	s := &Stage{
		storage:    storage,
		stats:      stats,
		sink:       sink,
		logger:     logging.NewComponentLogger(logger, "storage"),
		metrics:    m,
		timeout:    cfg.StageTimeout(),
		retryAfter: cfg.ErrorRetryInterval(),
		sleep:      diskspace.Sleep,
		move:       fileutil.MoveFile,
	}
	s.guard = diskspace.NewGuard("storage", cfg.Paths.StorageDir, cfg.MinFreeStorageBytes(),
		cfg.SpaceRetryInterval(), alerts.SubjectStorageFull, sink, logger, diskspace.WithMetrics(m))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stage) Name() string { return "storage" }

// Run processes items until ctx is cancelled.
func (s *Stage) Run(ctx context.Context) error {
	ctx = services.WithStage(ctx, "storage")
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}

// Step handles at most one item. A failed move leaves the item at the head
// and waits error_retry_interval before the next attempt.
func (s *Stage) Step(ctx context.Context) (err error) {
	ok, err := stage.AwaitWork(ctx, s.storage, s.timeout, alerts.SubjectNoFilesStored, "stored", s.sink, s.logger)
	if err != nil || !ok {
		return err
	}
	defer stage.PushRefresh(ctx, s.stats, &err)
	acked := false
	defer func() {
		if !acked {
			s.storage.Release()
		}
	}()

	entry, err := s.storage.Peek(ctx)
	if err != nil {
		return fmt.Errorf("peek storage channel: %w", err)
	}
	item := entry.Item
	itemCtx := ctx
	if item.CorrelationID != "" {
		itemCtx = services.WithCorrelationID(ctx, item.CorrelationID)
	}
	logger := logging.WithContext(itemCtx, s.logger)

	if err := s.guard.Wait(itemCtx); err != nil {
		return err
	}

	outcome, err := s.place(item)
	s.metrics.Stored(outcome)
	if err != nil {
		logging.ErrorWithContext(logger, "storing file failed", "store_failed",
			logging.String("file", item.SourcePath),
			logging.String("destination", item.DestinationDir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file stays in staging and is retried"),
			logging.String(logging.FieldErrorHint, "check permissions and mounts of the storage directory"),
		)
		body := fmt.Sprintf("Storing %s in %s failed: %v", item.SourcePath, item.DestinationDir, err)
		if sendErr := s.sink.Send(itemCtx, alerts.SubjectStoreFailed, body); sendErr != nil {
			logger.Error("failed to send alert", logging.Error(sendErr))
		}
		s.storage.Release()
		acked = true
		return s.sleep(ctx, s.retryAfter)
	}

	if err := s.storage.Ack(ctx, entry); err != nil {
		return fmt.Errorf("ack storage item: %w", err)
	}
	acked = true
	return nil
}

// place moves the file into its partition. A file already present at the
// destination means an earlier attempt finished before its ack was recorded.
func (s *Stage) place(item queue.StoreItem) (string, error) {
	base := filepath.Base(item.SourcePath)
	dst := filepath.Join(item.DestinationDir, base)

	if _, err := os.Stat(dst); err == nil {
		s.logger.Info("file already stored; skipping",
			logging.String("file", base),
			logging.String("destination", item.DestinationDir),
		)
		if _, srcErr := os.Stat(item.SourcePath); srcErr == nil {
			s.logger.Warn("staged copy left behind next to stored file",
				logging.String("file", item.SourcePath),
				logging.String(logging.FieldImpact, "staging space is not reclaimed automatically"),
			)
		}
		return OutcomeSkipped, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return OutcomeFailed, fmt.Errorf("stat destination: %w", err)
	}

	if err := os.MkdirAll(item.DestinationDir, 0o755); err != nil {
		return OutcomeFailed, fmt.Errorf("create partition: %w", err)
	}
	if err := s.move(item.SourcePath, dst); err != nil {
		return OutcomeFailed, fmt.Errorf("move: %w", err)
	}
	s.logger.Info("file stored",
		logging.String("file", base),
		logging.String("destination", item.DestinationDir),
	)
	return OutcomeMoved, nil
}
