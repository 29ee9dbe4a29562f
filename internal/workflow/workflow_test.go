package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/stage"
	"daqpull/internal/testsupport"
	"daqpull/internal/workflow"
)

type scriptedWorker struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context, call int32) error
}

func (w *scriptedWorker) Name() string { return w.name }

func (w *scriptedWorker) Run(ctx context.Context) error {
	return w.run(ctx, w.calls.Add(1))
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestSuperviseRestartsAfterPanic(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	sup := workflow.NewSupervisor(10*time.Second, sink, logging.NewNop(), workflow.WithSupervisorSleep(noSleep))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &scriptedWorker{name: "storage", run: func(ctx context.Context, call int32) error {
		switch call {
		case 1:
			panic("disk on fire")
		case 2:
			return errors.New("database is locked")
		default:
			cancel()
			return blockUntilDone(ctx)
		}
	}}

	if err := sup.Supervise(ctx, w); err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	if got := w.calls.Load(); got != 3 {
		t.Fatalf("expected three runs, got %d", got)
	}
	if got := sink.Count(alerts.SubjectException); got != 2 {
		t.Fatalf("expected two exception alerts, got %d", got)
	}
	if _, ok := sink.Find(alerts.SubjectException, "disk on fire"); !ok {
		t.Fatalf("panic value missing from alert: %+v", sink.Alerts())
	}
}

func TestSuperviseWaitsBetweenRestarts(t *testing.T) {
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := workflow.NewSupervisor(10*time.Second, nil, logging.NewNop(),
		workflow.WithSupervisorSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			sleeps = append(sleeps, d)
			if len(sleeps) == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		}))
	w := &scriptedWorker{name: "verification", run: func(context.Context, int32) error {
		return errors.New("boom")
	}}
	if err := sup.Supervise(ctx, w); err != nil {
		t.Fatalf("Supervise: %v", err)
	}
	if len(sleeps) != 2 || sleeps[0] != 10*time.Second {
		t.Fatalf("unexpected sleeps %v", sleeps)
	}
}

func TestManagerRunsAllWorkersAndStops(t *testing.T) {
	sup := workflow.NewSupervisor(time.Second, nil, logging.NewNop(), workflow.WithSupervisorSleep(noSleep))
	var started sync.WaitGroup
	started.Add(3)
	workers := make([]stage.Worker, 0, 3)
	for _, name := range []string{"collector-medal-1", "collector-medal-2", "statistics"} {
		workers = append(workers, &scriptedWorker{name: name, run: func(ctx context.Context, call int32) error {
			if call == 1 {
				started.Done()
			}
			return blockUntilDone(ctx)
		}})
	}
	m, err := workflow.NewManager(sup, workers, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	started.Wait()

	status := m.Status()
	if !status.Running || len(status.Workers) != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	for _, h := range status.Workers {
		if !h.Ready {
			t.Fatalf("worker %s should be healthy", h.Name)
		}
	}

	m.Stop()
	if m.Status().Running {
		t.Fatal("expected manager stopped")
	}
}

func TestManagerTracksRestarts(t *testing.T) {
	sup := workflow.NewSupervisor(time.Second, nil, logging.NewNop(), workflow.WithSupervisorSleep(noSleep))
	failedTwice := make(chan struct{})
	w := &scriptedWorker{name: "storage", run: func(ctx context.Context, call int32) error {
		if call <= 2 {
			return errors.New("move failed")
		}
		close(failedTwice)
		return blockUntilDone(ctx)
	}}
	m, err := workflow.NewManager(sup, []stage.Worker{w}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-failedTwice
	status := m.Status()
	h := status.Workers[0]
	if h.Restarts != 2 {
		t.Fatalf("expected two restarts, got %d", h.Restarts)
	}
	if h.Ready || h.State() != "failing" || !strings.Contains(h.Detail, "move failed") {
		t.Fatalf("expected recent failure reported, got %+v", h)
	}
	if unhealthy := status.Unhealthy(); len(unhealthy) != 1 || unhealthy[0].Name != "storage" {
		t.Fatalf("expected storage listed as unhealthy, got %+v", unhealthy)
	}
	m.Stop()
}

func TestNewManagerRejectsDuplicateNames(t *testing.T) {
	sup := workflow.NewSupervisor(time.Second, nil, logging.NewNop())
	w := &scriptedWorker{name: "storage", run: func(ctx context.Context, _ int32) error { return blockUntilDone(ctx) }}
	if _, err := workflow.NewManager(sup, []stage.Worker{w, w}, logging.NewNop()); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
