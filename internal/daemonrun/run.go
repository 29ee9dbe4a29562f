// Package daemonrun wires a complete daqpull process: logging, alert
// delivery, the durable store, the pipeline workers, and the optional
// metrics endpoint.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/daemon"
	"daqpull/internal/logging"
	"daqpull/internal/metrics"
	"daqpull/internal/pipeline"
	"daqpull/internal/preflight"
	"daqpull/internal/queue"
	"daqpull/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daqpull daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	// The alert spool holds its own lock, so check before opening anything.
	if running, err := daemon.InstanceRunning(cfg.LockPath()); err == nil && running {
		return daemon.ErrAlreadyRunning
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	logPath := runLogPath(cfg.Paths.LogDir, runID)
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("run_id", runID))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update daqpull.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "daqpull-*.log", Exclude: []string{logPath}},
	)

	checks := runPreflight(signalCtx, cfg, logger)
	if fatal := preflight.Fatal(checks); len(fatal) > 0 {
		return fmt.Errorf("preflight failed: %s: %s", fatal[0].Name, fatal[0].Detail)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	m := metrics.New(nil)
	transport, err := alerts.NewTransport(cfg, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("alert transport: %w", err)
	}
	spool, err := alerts.OpenSpool(cfg.Alerts.SpoolDir)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open alert spool: %w", err)
	}
	defer spool.Close()
	dispatcher := alerts.NewDispatcher(cfg, transport, spool, logger, alerts.WithMetrics(m))
	alertDisabledChecks(signalCtx, checks, dispatcher, logger)

	p, err := pipeline.Build(signalCtx, cfg, store, dispatcher, logger, m, pipeline.Options{})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("build pipeline: %w", err)
	}
	supervisor := workflow.NewSupervisor(cfg.ErrorRetryInterval(), dispatcher, logger, workflow.WithSupervisorMetrics(m))
	manager, err := workflow.NewManager(supervisor, p.Workers(), logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	d, err := daemon.New(cfg, store, logger, manager, dispatcher)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	pidPath := cfg.PIDPath()
	if err := daemon.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)
	logger.Info("daqpull daemon running",
		logging.Int("units", p.Registry.Len()),
		logging.String("log_path", logPath),
		logging.String("storage_dir", cfg.Paths.StorageDir),
	)

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Bind, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.WarnWithContext(logger, "metrics endpoint stopped", "metrics_server_failed",
					logging.String("bind", cfg.Metrics.Bind),
					logging.Error(err),
					logging.String(logging.FieldImpact, "prometheus cannot scrape this instance"),
				)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	<-signalCtx.Done()
	logger.Info("daqpull daemon shutting down")
	return nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) []preflight.Result {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("fatal", r.Fatal),
			logging.String(logging.FieldErrorHint, "run 'daqpull preflight' for the full report"),
		)
	}
	return results
}

// alertDisabledChecks tells the operator when files will be forwarded
// without channel checks.
func alertDisabledChecks(ctx context.Context, results []preflight.Result, sink alerts.Sink, logger *slog.Logger) {
	r, ok := preflight.Find(results, "Channel reader")
	if !ok || r.Passed {
		return
	}
	body := fmt.Sprintf("%s\n\nFiles are still size-checked and stored.", r.Detail)
	if err := sink.Send(ctx, alerts.SubjectChecksDisabled, body); err != nil {
		logger.Warn("queue channel check alert", logging.Error(err))
	}
}

// runLogPath names the per-run log after the run id stamped on every record.
func runLogPath(logDir, runID string) string {
	return filepath.Join(logDir, fmt.Sprintf("daqpull-%s.log", runID))
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "daqpull.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
