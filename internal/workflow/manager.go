package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"daqpull/internal/logging"
	"daqpull/internal/stage"
)

// Manager owns the fixed set of pipeline workers.
type Manager struct {
	supervisor *Supervisor
	workers    []stage.Worker
	logger     *slog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	state   map[string]*workerState
}

type workerState struct {
	restarts  int
	lastError string
	lastFail  time.Time
}

// unhealthyWindow is how long a failure keeps a worker marked unhealthy.
const unhealthyWindow = time.Minute

// StatusSummary is a point-in-time view of the workers.
type StatusSummary struct {
	Running bool
	Workers []stage.Health
}

// NewManager builds a manager over workers, which must have unique names.
func NewManager(supervisor *Supervisor, workers []stage.Worker, logger *slog.Logger) (*Manager, error) {
	state := make(map[string]*workerState, len(workers))
	for _, w := range workers {
		if _, dup := state[w.Name()]; dup {
			return nil, errors.New("duplicate worker name " + w.Name())
		}
		state[w.Name()] = &workerState{}
	}
	m := &Manager{
		supervisor: supervisor,
		workers:    workers,
		logger:     logging.NewComponentLogger(logger, "workflow"),
		state:      state,
	}
	supervisor.onFailure = m.recordFailure
	return m, nil
}

// Start launches every worker in its own supervised goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.workers) == 0 {
		return errors.New("no workers configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, w := range m.workers {
		group.Go(func() error {
			return m.supervisor.Supervise(groupCtx, w)
		})
	}
	m.cancel = cancel
	m.group = group
	m.running = true
	m.logger.Info("workers started", logging.Int("workers", len(m.workers)))
	return nil
}

// Wait blocks until every worker has returned.
func (m *Manager) Wait() error {
	m.mu.RLock()
	group := m.group
	m.mu.RUnlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop cancels the workers and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	group := m.group
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	_ = group.Wait()
	m.logger.Info("workers stopped")
}

// Status reports worker health. A worker that failed within the last
// minute counts as unhealthy.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := StatusSummary{Running: m.running, Workers: make([]stage.Health, 0, len(m.workers))}
	for _, w := range m.workers {
		st := m.state[w.Name()]
		if st.lastError != "" && time.Since(st.lastFail) < unhealthyWindow {
			out.Workers = append(out.Workers, stage.Unhealthy(w.Name(), st.restarts, st.lastError))
			continue
		}
		out.Workers = append(out.Workers, stage.Healthy(w.Name(), st.restarts))
	}
	return out
}

// Unhealthy lists the workers in s that failed recently.
func (s StatusSummary) Unhealthy() []stage.Health {
	var out []stage.Health
	for _, h := range s.Workers {
		if !h.Ready {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager) recordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[name]
	if !ok {
		return
	}
	st.restarts++
	st.lastError = err.Error()
	st.lastFail = time.Now()
}
