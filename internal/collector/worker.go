// Package collector runs one worker per acquisition unit. Each worker lists
// the unit's files, applies the download policy, pulls files into staging, and
// hands them to the verification and statistics channels.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/daqfile"
	"daqpull/internal/diskspace"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/queue"
	"daqpull/internal/remote"
	"daqpull/internal/services"
	"daqpull/internal/units"
)

// Remote is the subset of remote.Client the worker uses.
type Remote interface {
	List(ctx context.Context, u units.Unit, scratchDir string) (remote.Listing, error)
	Transfer(ctx context.Context, u units.Unit, f remote.File, destDir string) (remote.Result, error)
}

// Worker pulls files from one unit.
type Worker struct {
	unit        units.Unit
	remote      Remote
	verify      *queue.Channel[queue.VerifyItem]
	stats       *queue.Channel[queue.StatsItem]
	stagingDir  string
	storageRoot string
	guard       *diskspace.Guard
	sink        alerts.Sink
	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoff     *Backoff

	pollInterval   time.Duration
	pollJitter     time.Duration
	extendedSleep  time.Duration
	extendedJitter time.Duration
	filePause      time.Duration
	backlog        int

	sleep    func(context.Context, time.Duration) error
	jitter   func(limit time.Duration) time.Duration
	rejected map[string]struct{}
	cycles   int
	// misconfigured holds the last configuration error already alerted.
	misconfigured string

	guardOpts []diskspace.Option
}

// Option customizes a Worker.
type Option func(*Worker)

// WithSleep replaces every sleep the worker and its space guard perform.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

// WithJitter replaces the random jitter source. fn returns a value in [0, limit].
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(w *Worker) { w.jitter = fn }
}

// WithMetrics records transfer metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithGuardOptions customizes the staging free-space guard.
func WithGuardOptions(opts ...diskspace.Option) Option {
	return func(w *Worker) { w.guardOpts = append(w.guardOpts, opts...) }
}

// NewWorker builds the collector for unit.
func NewWorker(
	cfg *config.Config,
	unit units.Unit,
	client Remote,
	verify *queue.Channel[queue.VerifyItem],
	stats *queue.Channel[queue.StatsItem],
	sink alerts.Sink,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		unit:           unit,
		remote:         client,
		verify:         verify,
		stats:          stats,
		stagingDir:     filepath.Join(cfg.Paths.StagingDir, unit.Hostname),
		storageRoot:    cfg.Paths.StorageDir,
		sink:           sink,
		logger:         logging.NewComponentLogger(logger, "collector-"+unit.Hostname).With(logging.Unit(unit.Hostname)),
		backoff:        NewBackoff(cfg.UnreachableBackoff()),
		pollInterval:   time.Duration(cfg.Collector.PollInterval) * time.Second,
		pollJitter:     time.Duration(cfg.Collector.PollJitter) * time.Second,
		extendedSleep:  time.Duration(cfg.Collector.ExtendedSleep) * time.Second,
		extendedJitter: time.Duration(cfg.Collector.ExtendedJitter) * time.Second,
		filePause:      time.Duration(cfg.Collector.FilePause) * time.Second,
		backlog:        cfg.Collector.LiveBacklogThreshold,
		sleep:          diskspace.Sleep,
		jitter:         uniformJitter,
		rejected:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sink == nil {
		w.sink = alerts.Discard
	}
	guardOpts := append([]diskspace.Option{diskspace.WithSleep(w.sleep), diskspace.WithMetrics(w.metrics)}, w.guardOpts...)
	w.guard = diskspace.NewGuard("staging", cfg.Paths.StagingDir, cfg.MinFreeStagingBytes(), cfg.SpaceRetryInterval(),
		alerts.SubjectStagingFull, sink, w.logger, guardOpts...)
	return w
}

// uniformJitter returns whole seconds in [0, limit].
func uniformJitter(limit time.Duration) time.Duration {
	secs := int64(limit / time.Second)
	if secs <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(secs+1)) * time.Second
}

// Name identifies the worker in logs and supervision.
func (w *Worker) Name() string { return "collector-" + w.unit.Hostname }

// Run loops over fetch cycles until ctx is cancelled, sleeping the randomized
// poll interval between cycles.
func (w *Worker) Run(ctx context.Context) error {
	ctx = services.WithUnit(services.WithStage(ctx, "collector"), w.unit.Hostname)
	for {
		if w.cycles > 0 {
			if err := w.sleep(ctx, w.pollInterval+w.jitter(w.pollJitter)); err != nil {
				return err
			}
		}
		w.cycles++
		if err := w.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Cycle performs one listing and fetch batch. It returns an error only when
// ctx is cancelled or a channel write fails.
func (w *Worker) Cycle(ctx context.Context) error {
	if err := os.MkdirAll(w.stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	if err := w.guard.Wait(ctx); err != nil {
		return err
	}

	listing, err := w.remote.List(ctx, w.unit, w.stagingDir)
	if err != nil {
		return w.handleRemoteError(ctx, "list", err)
	}
	w.resetBackoff()

	plan := PlanFetch(w.dropRejected(listing), w.backlog)
	if len(plan.Files) == 0 {
		return nil
	}
	w.logger.InfoContext(ctx, "receiving files",
		logging.String("policy", plan.Reason),
		logging.Int("fetching", len(plan.Files)),
		logging.Int("persisted", len(listing.Persisted)),
		logging.Int("live", len(listing.Live)),
	)

	for _, f := range plan.Files {
		cont, err := w.fetch(ctx, f)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
		if !plan.Extended {
			if err := w.sleep(ctx, w.filePause); err != nil {
				return err
			}
		}
	}
	if plan.Extended {
		return w.sleep(ctx, w.extendedSleep+w.jitter(w.extendedJitter))
	}
	return nil
}

func (w *Worker) dropRejected(listing remote.Listing) remote.Listing {
	if len(w.rejected) == 0 {
		return listing
	}
	keep := func(files []remote.File) []remote.File {
		out := files[:0:0]
		for _, f := range files {
			if _, bad := w.rejected[f.Path]; !bad {
				out = append(out, f)
			}
		}
		return out
	}
	return remote.Listing{Persisted: keep(listing.Persisted), Live: keep(listing.Live)}
}

// fetch pulls one file. cont is false when the rest of the batch should be abandoned.
func (w *Worker) fetch(ctx context.Context, f remote.File) (cont bool, err error) {
	if ok, usage, err := w.guard.Check(); err != nil || !ok {
		w.logger.WarnContext(ctx, "staging free space below floor; abandoning batch",
			logging.Uint64("free_bytes", usage.Free),
			logging.Error(err),
			logging.String(logging.FieldEventType, "staging_space_low"),
		)
		return false, nil
	}

	name, err := daqfile.Parse(f.Base())
	if err != nil {
		err = services.Wrap(services.ErrValidation, "collector", "parse name", f.Base(), err)
		w.rejected[f.Path] = struct{}{}
		w.metrics.FileRejected(w.unit.Hostname)
		logging.WarnWithContext(w.logger, "filename not matched; ignoring file", "filename_rejected",
			logging.String("file", f.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file stays on the unit and is never fetched"),
			logging.String(logging.FieldErrorHint, "rename the file on the unit or remove it"),
		)
		return true, nil
	}

	res, err := w.remote.Transfer(ctx, w.unit, f, w.stagingDir)
	if err != nil {
		return false, w.handleRemoteError(ctx, "transfer", err)
	}
	w.resetBackoff()
	w.metrics.TransferCompleted(w.unit.Hostname, res.Size, res.Duration.Seconds())

	cid := services.NewCorrelationID()
	itemCtx := services.WithCorrelationID(ctx, cid)
	logging.WithContext(itemCtx, w.logger).Info("received file",
		logging.String("file", f.Path),
		logging.Int64("bytes", res.Size),
		logging.Duration("elapsed", res.Duration.Round(time.Second)),
	)

	destDir := filepath.Join(w.storageRoot, w.unit.Hostname, filepath.FromSlash(name.DatePath()))
	record := &queue.TransferRecord{
		Hostname:         w.unit.Hostname,
		SourcePath:       res.LocalPath,
		DestinationDir:   destDir,
		Sequence:         name.Sequence,
		FileSize:         res.Size,
		TransferDuration: res.Duration,
		ReceivedAt:       res.StartedAt,
	}
	item := queue.VerifyItem{
		Hostname:       w.unit.Hostname,
		SourcePath:     res.LocalPath,
		DestinationDir: destDir,
		CorrelationID:  cid,
	}
	// The file must be queued before it is counted; a crash in between
	// loses a statistics record, never a file.
	if err := w.verify.Push(ctx, item); err != nil {
		return false, fmt.Errorf("push verification item: %w", err)
	}
	if err := w.stats.Push(ctx, queue.StatsItem{Record: record}); err != nil {
		return false, fmt.Errorf("push statistics record: %w", err)
	}
	return true, nil
}

func (w *Worker) resetBackoff() {
	if w.backoff.Failures() > 0 {
		w.logger.Info("unit reachable again", logging.Int("failures", w.backoff.Failures()))
	}
	w.backoff.Reset()
	w.misconfigured = ""
	w.metrics.SetUnreachableStreak(w.unit.Hostname, 0)
}

// handleRemoteError logs a listing or transfer failure and, for unreachable
// hosts, sleeps the next backoff step. Only cancellation is returned.
func (w *Worker) handleRemoteError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch {
	case errors.Is(err, remote.ErrHostUnreachable):
		delay := w.backoff.Fail()
		w.metrics.TransferFailed(w.unit.Hostname, "unreachable")
		w.metrics.SetUnreachableStreak(w.unit.Hostname, w.backoff.Failures())
		logging.WarnWithContext(w.logger, "unit unreachable; backing off", "unit_unreachable",
			logging.String("operation", op),
			logging.Int("failures", w.backoff.Failures()),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no files pulled from this unit until it answers"),
			logging.String(logging.FieldErrorHint, "check unit power and network link"),
		)
		return w.sleep(ctx, delay)
	case !services.Retryable(err):
		w.metrics.TransferFailed(w.unit.Hostname, services.Kind(err))
		logging.ErrorWithContext(w.logger, "unit rejected the transfer setup", "unit_misconfigured",
			logging.String("operation", op),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no files pulled from this unit until the setup is fixed"),
			logging.String(logging.FieldErrorHint, "check the signing key is authorized on the unit and the hostname resolves"),
		)
		if msg := err.Error(); msg != w.misconfigured {
			w.misconfigured = msg
			body := fmt.Sprintf("Collector for %s cannot %s:\n\n%v", w.unit.Hostname, op, err)
			if sendErr := w.sink.Send(ctx, alerts.SubjectException, body); sendErr != nil {
				w.logger.Error("failed to send configuration alert", logging.Error(sendErr))
			}
		}
	case errors.Is(err, remote.ErrTimeout):
		w.metrics.TransferFailed(w.unit.Hostname, "timeout")
		logging.WarnWithContext(w.logger, "remote operation timed out", "remote_timeout",
			logging.String("operation", op),
			logging.Error(err),
			logging.String(logging.FieldImpact, "retrying on the next poll cycle"),
		)
	default:
		w.metrics.TransferFailed(w.unit.Hostname, services.Kind(err))
		logging.WarnWithContext(w.logger, "remote operation failed", "remote_failed",
			logging.String("operation", op),
			logging.Error(err),
			logging.String(logging.FieldImpact, "retrying on the next poll cycle"),
		)
	}
	return nil
}
