package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/diskspace"
	"daqpull/internal/logging"
	"daqpull/internal/queue"
	"daqpull/internal/storage"
	"daqpull/internal/testsupport"
)

type fixture struct {
	storage *queue.Channel[queue.StoreItem]
	stats   *queue.Channel[queue.StatsItem]
	sink    *testsupport.RecordingSink
	staging string
	root    string
	sleeps  []time.Duration
}

func newFixture(t *testing.T) (*fixture, func(...storage.Option) *storage.Stage) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		storage: testsupport.MustOpenChannel[queue.StoreItem](t, store, queue.ChannelStorage),
		stats:   testsupport.MustOpenChannel[queue.StatsItem](t, store, queue.ChannelStatistics),
		sink:    &testsupport.RecordingSink{},
		staging: filepath.Join(cfg.Paths.StagingDir, "unit-1"),
		root:    cfg.Paths.StorageDir,
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		t.Fatalf("mkdir storage: %v", err)
	}
	sleep := func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	build := func(opts ...storage.Option) *storage.Stage {
		opts = append([]storage.Option{storage.WithSleep(sleep)}, opts...)
		return storage.NewStage(cfg, f.storage, f.stats, f.sink, logging.NewNop(), nil, opts...)
	}
	return f, build
}

func (f *fixture) stage(t *testing.T, name string) queue.StoreItem {
	t.Helper()
	src := filepath.Join(f.staging, name)
	testsupport.WriteFile(t, src, 2048)
	item := queue.StoreItem{
		SourcePath:     src,
		DestinationDir: filepath.Join(f.root, "unit-1", "2016", "06", "04"),
	}
	if err := f.storage.Push(context.Background(), item); err != nil {
		t.Fatalf("push: %v", err)
	}
	return item
}

func depth[T any](t *testing.T, ch *queue.Channel[T]) int {
	t.Helper()
	n, err := ch.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestStepMovesFileIntoPartition(t *testing.T) {
	f, build := newFixture(t)
	st := build()
	item := f.stage(t, "unit-1-2016-06-04T22-24-42.411571+0200-0000001.hdf5")

	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	dst := filepath.Join(item.DestinationDir, filepath.Base(item.SourcePath))
	if info, err := os.Stat(dst); err != nil || info.Size() != 2048 {
		t.Fatalf("expected stored file, stat=%v err=%v", info, err)
	}
	if _, err := os.Stat(item.SourcePath); !os.IsNotExist(err) {
		t.Fatalf("expected staged file gone, err=%v", err)
	}
	if depth(t, f.storage) != 0 {
		t.Fatal("expected storage channel drained")
	}
	if depth(t, f.stats) != 1 {
		t.Fatal("expected one statistics sentinel")
	}
}

func TestStepSkipsFileAlreadyStored(t *testing.T) {
	f, build := newFixture(t)
	moves := 0
	st := build(storage.WithMove(func(src, dst string) error {
		moves++
		return os.Rename(src, dst)
	}))
	item := f.stage(t, "a.hdf5")
	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("first Step: %v", err)
	}

	// Replay of an item whose ack was lost.
	if err := f.storage.Push(context.Background(), item); err != nil {
		t.Fatalf("push replay: %v", err)
	}
	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("replay Step: %v", err)
	}
	if moves != 1 {
		t.Fatalf("expected exactly one move, got %d", moves)
	}
	if depth(t, f.storage) != 0 {
		t.Fatal("expected replay acknowledged")
	}
	if len(f.sink.Alerts()) != 0 {
		t.Fatalf("unexpected alerts: %+v", f.sink.Alerts())
	}
}

func TestStepBlocksBelowFloorThenMovesOnce(t *testing.T) {
	f, build := newFixture(t)
	checks := 0
	stat := func(string) (diskspace.Usage, error) {
		checks++
		if checks <= 3 {
			return diskspace.Usage{Total: 100, Free: 0}, nil
		}
		return diskspace.Usage{Total: 100, Free: 50}, nil
	}
	var spaceSleeps int
	moves := 0
	st := build(
		storage.WithGuardOptions(
			diskspace.WithStat(stat),
			diskspace.WithSleep(func(context.Context, time.Duration) error { spaceSleeps++; return nil }),
		),
		storage.WithMove(func(src, dst string) error { moves++; return os.Rename(src, dst) }),
	)
	f.stage(t, "b.hdf5")

	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if spaceSleeps != 3 {
		t.Fatalf("expected three space retries, got %d", spaceSleeps)
	}
	if moves != 1 {
		t.Fatalf("expected one move after recovery, got %d", moves)
	}
	if got := f.sink.Count(alerts.SubjectStorageFull); got != 1 {
		t.Fatalf("expected one storage-full alert, got %d", got)
	}
}

func TestStepFailureKeepsItemAndRetries(t *testing.T) {
	f, build := newFixture(t)
	fail := true
	st := build(storage.WithMove(func(src, dst string) error {
		if fail {
			return errors.New("permission denied")
		}
		return os.Rename(src, dst)
	}))
	item := f.stage(t, "c.hdf5")

	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("failing Step: %v", err)
	}
	if depth(t, f.storage) != 1 {
		t.Fatal("expected item to stay queued")
	}
	if f.storage.Available() != 1 {
		t.Fatalf("expected signal released, available=%d", f.storage.Available())
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 10*time.Second {
		t.Fatalf("expected one error retry sleep, got %v", f.sleeps)
	}
	if _, ok := f.sink.Find(alerts.SubjectStoreFailed, "permission denied"); !ok {
		t.Fatalf("expected store failure alert, got %+v", f.sink.Alerts())
	}
	sentinel, err := f.stats.Peek(context.Background())
	if err != nil || !sentinel.Item.IsNoop() {
		t.Fatalf("expected statistics sentinel after the failed move, got %+v err=%v", sentinel.Item, err)
	}

	fail = false
	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("retry Step: %v", err)
	}
	if depth(t, f.storage) != 0 {
		t.Fatal("expected item stored on retry")
	}
	if _, err := os.Stat(filepath.Join(item.DestinationDir, "c.hdf5")); err != nil {
		t.Fatalf("expected stored file: %v", err)
	}
}

func TestStepAlertsWhenNothingArrives(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StageTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)
	sink := &testsupport.RecordingSink{}
	st := storage.NewStage(cfg,
		testsupport.MustOpenChannel[queue.StoreItem](t, store, queue.ChannelStorage),
		testsupport.MustOpenChannel[queue.StatsItem](t, store, queue.ChannelStatistics),
		sink, logging.NewNop(), nil)

	if err := st.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := sink.Find(alerts.SubjectNoFilesStored, "No file stored"); !ok {
		t.Fatalf("expected stall alert, got %+v", sink.Alerts())
	}
}
