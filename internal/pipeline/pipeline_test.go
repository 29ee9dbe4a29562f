package pipeline_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/collector"
	"daqpull/internal/config"
	"daqpull/internal/logging"
	"daqpull/internal/pipeline"
	"daqpull/internal/queue"
	"daqpull/internal/remote"
	"daqpull/internal/testsupport"
)

// unitFS emulates rsync against a local directory standing in for the unit.
type unitFS struct {
	mu   sync.Mutex
	root string
	ext  string
}

func (u *unitFS) Run(_ context.Context, _ string, args []string, onOutput func(string)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	src, dst := args[len(args)-2], args[len(args)-1]
	rel := src[strings.Index(src, ":")+1:]
	rel = strings.TrimPrefix(rel, "/energy-daq/files/")

	for _, a := range args {
		if a == "--dry-run" {
			return filepath.WalkDir(u.root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() || !strings.HasSuffix(path, u.ext) {
					return err
				}
				name, _ := filepath.Rel(u.root, path)
				onOutput(filepath.ToSlash(name))
				return nil
			})
		}
	}
	from := filepath.Join(u.root, filepath.FromSlash(rel))
	return os.Rename(from, filepath.Join(dst, filepath.Base(from)))
}

func (u *unitFS) put(t *testing.T, class, name string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(u.root, class, name), 4096)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	cfg   *config.Config
	store *queue.Store
	sink  *testsupport.RecordingSink
	unit  *unitFS
	p     *pipeline.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	h := &harness{
		cfg:   cfg,
		store: testsupport.MustOpenStore(t, cfg),
		sink:  &testsupport.RecordingSink{},
		unit:  &unitFS{root: filepath.Join(testsupport.BaseDir(cfg), "unit-root"), ext: cfg.Transfer.FileExtension},
	}
	p, err := pipeline.Build(context.Background(), cfg, h.store, h.sink, logging.NewNop(), nil, pipeline.Options{
		Remote:    []remote.Option{remote.WithExecutor(h.unit)},
		Collector: []collector.Option{collector.WithSleep(noSleep), collector.WithJitter(func(time.Duration) time.Duration { return 0 })},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.p = p
	return h
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, c := range h.p.Collectors {
		if err := c.Cycle(ctx); err != nil {
			t.Fatalf("collector cycle: %v", err)
		}
	}
	drain(t, h.p.Verify, h.p.Verification.Step)
	drain(t, h.p.Storage, h.p.StorageStage.Step)
	drain(t, h.p.Stats, h.p.Statistics.Step)
}

func drain[T any](t *testing.T, ch *queue.Channel[T], step func(context.Context) error) {
	t.Helper()
	for i := 0; i < 100; i++ {
		n, err := ch.Count(context.Background())
		if err != nil {
			t.Fatalf("count %s: %v", ch.Name(), err)
		}
		if n == 0 {
			return
		}
		if err := step(context.Background()); err != nil {
			t.Fatalf("step %s: %v", ch.Name(), err)
		}
	}
	t.Fatalf("channel %s did not drain", ch.Name())
}

const (
	first  = "unit-1-2016-06-04T22-24-42.411571+0200-0000001.hdf5"
	second = "unit-1-2016-06-04T22-39-42.411571+0200-0000002.hdf5"
)

func TestFilesSettleExactlyOnceInStorage(t *testing.T) {
	h := newHarness(t)
	h.unit.put(t, "persisted", first)
	h.unit.put(t, "ram", second)

	// Persisted files drain first; the live file follows on the next cycle.
	h.settle(t)
	h.settle(t)

	partition := filepath.Join(h.cfg.Paths.StorageDir, "unit-1", "2016", "06", "04")
	for _, name := range []string{first, second} {
		if info, err := os.Stat(filepath.Join(partition, name)); err != nil || info.Size() != 4096 {
			t.Fatalf("expected %s stored, info=%v err=%v", name, info, err)
		}
		for _, gone := range []string{
			filepath.Join(h.unit.root, "persisted", name),
			filepath.Join(h.unit.root, "ram", name),
			filepath.Join(h.cfg.Paths.StagingDir, "unit-1", name),
		} {
			if _, err := os.Stat(gone); !os.IsNotExist(err) {
				t.Fatalf("expected %s removed, err=%v", gone, err)
			}
		}
	}

	stored, err := h.store.LoadHealth(context.Background())
	if err != nil {
		t.Fatalf("LoadHealth: %v", err)
	}
	if seq := stored["unit-1"].LastSequenceNumber; seq == nil || *seq != 2 {
		t.Fatalf("expected last sequence 2, got %v", seq)
	}
	if got := h.sink.Count(alerts.SubjectSequenceMismatch); got != 0 {
		t.Fatalf("unexpected mismatch alerts: %+v", h.sink.Alerts())
	}
	report, err := os.ReadFile(h.cfg.Paths.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "unit-1") {
		t.Fatalf("report missing unit:\n%s", report)
	}
}

func TestReplayedStorageItemIsNoop(t *testing.T) {
	h := newHarness(t)
	h.unit.put(t, "persisted", first)
	h.settle(t)

	dest := filepath.Join(h.cfg.Paths.StorageDir, "unit-1", "2016", "06", "04")
	replay := queue.StoreItem{SourcePath: filepath.Join(h.cfg.Paths.StagingDir, "unit-1", first), DestinationDir: dest}
	if err := h.p.Storage.Push(context.Background(), replay); err != nil {
		t.Fatalf("push replay: %v", err)
	}
	h.settle(t)

	if got := h.sink.Count(alerts.SubjectStoreFailed); got != 0 {
		t.Fatalf("replay should not fail: %+v", h.sink.Alerts())
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single stored file, got %d", len(entries))
	}
}

func TestMalformedNameStaysOnUnit(t *testing.T) {
	h := newHarness(t)
	h.unit.put(t, "persisted", "garbage.hdf5")
	h.unit.put(t, "persisted", first)
	h.settle(t)
	h.settle(t)

	if _, err := os.Stat(filepath.Join(h.unit.root, "persisted", "garbage.hdf5")); err != nil {
		t.Fatalf("malformed file should stay on the unit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.StorageDir, "unit-1", "2016", "06", "04", first)); err != nil {
		t.Fatalf("valid file should be stored: %v", err)
	}
}

func TestWorkersListsEveryLoop(t *testing.T) {
	h := newHarness(t)
	names := map[string]bool{}
	for _, w := range h.p.Workers() {
		names[w.Name()] = true
	}
	for _, want := range []string{"collector-unit-1", "verification", "storage", "statistics"} {
		if !names[want] {
			t.Fatalf("missing worker %s in %v", want, names)
		}
	}
}
