package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"daqpull/internal/alerts"
	"daqpull/internal/config"
	"daqpull/internal/logging"
	"daqpull/internal/queue"
	"daqpull/internal/workflow"
)

// ErrAlreadyRunning reports that another instance holds the lock.
var ErrAlreadyRunning = errors.New("another daqpull daemon instance is already running")

// Daemon coordinates the pipeline workers and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	workflow   *workflow.Manager
	dispatcher *alerts.Dispatcher

	lockPath string
	lock     *flock.Flock

	heartbeat time.Duration
	failing   map[string]bool

	running atomic.Bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithHeartbeat sets how often the status snapshot is refreshed.
func WithHeartbeat(every time.Duration) Option {
	return func(d *Daemon) {
		if every > 0 {
			d.heartbeat = every
		}
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	Workflow      workflow.StatusSummary
	Depths        map[string]int
	PendingAlerts int
	Database      queue.DatabaseHealth
	QueueDBPath   string
	LockFilePath  string
}

// New constructs a daemon. dispatcher may be nil when alerts are delivered synchronously.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, dispatcher *alerts.Dispatcher, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		workflow:   wf,
		dispatcher: dispatcher,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		heartbeat:  defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock and launches the workers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.dispatcher != nil {
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			d.dispatcher.Run(runCtx)
		}()
	}
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.bg.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.publish(runCtx)
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		d.heartbeatLoop(runCtx)
	}()
	d.logger.Info("daqpull daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the workers and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.bg.Wait()
	if err := os.Remove(d.cfg.StatusPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("remove status snapshot", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daqpull daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if depths, err := d.store.Depths(ctx); err != nil {
		d.logger.Warn("failed to read channel depths", logging.Error(err))
	} else {
		status.Depths = depths
	}
	if health, err := d.store.CheckHealth(ctx); err != nil {
		d.logger.Warn("failed to check database health", logging.Error(err))
	} else {
		status.Database = health
	}
	if d.dispatcher != nil {
		status.PendingAlerts = d.dispatcher.Pending()
	}
	return status
}

// InstanceRunning reports whether a daemon currently holds the lock at lockPath.
func InstanceRunning(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// WritePIDFile records the current process ID at path.
func WritePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPIDFile returns the process ID stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}
