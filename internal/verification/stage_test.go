package verification_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/queue"
	"daqpull/internal/testsupport"
	"daqpull/internal/units"
	"daqpull/internal/verification"
	"daqpull/internal/verification/samples"
)

type fixture struct {
	stage   *verification.Stage
	verify  *queue.Channel[queue.VerifyItem]
	storage *queue.Channel[queue.StoreItem]
	stats   *queue.Channel[queue.StatsItem]
	sink    *testsupport.RecordingSink
	dir     string
}

func newFixture(t *testing.T, reader samples.Reader) *fixture {
	t.Helper()
	unit := testsupport.Unit("unit-1")
	unit.MinFileSizeMiB = 0
	unit.MaxFileSizeMiB = 1
	cfg := testsupport.NewConfig(t, testsupport.WithUnits(unit))
	cfg.Workflow.StageTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)
	reg, err := units.FromConfig(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if reader == nil {
		reader = samples.NewRegistry()
	}
	f := &fixture{
		verify:  testsupport.MustOpenChannel[queue.VerifyItem](t, store, queue.ChannelVerification),
		storage: testsupport.MustOpenChannel[queue.StoreItem](t, store, queue.ChannelStorage),
		stats:   testsupport.MustOpenChannel[queue.StatsItem](t, store, queue.ChannelStatistics),
		sink:    &testsupport.RecordingSink{},
		dir:     cfg.Paths.StagingDir,
	}
	checker := verification.NewChecker(reg, reader, cfg.Verification.StuckRunLength)
	f.stage = verification.NewStage(cfg, checker, f.verify, f.storage, f.stats, f.sink, logging.NewNop(), nil)
	return f
}

func (f *fixture) writeCSV(t *testing.T, name string, rows int, stuck bool) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	testsupport.WriteSampleCSV(t, path, []string{"current", "voltage"}, rows, func(row, col int) float64 {
		switch {
		case col == 0:
			return float64(row)
		case stuck:
			return 230
		default:
			return float64(row)
		}
	})
	return path
}

func (f *fixture) push(t *testing.T, hostname, path string) {
	t.Helper()
	item := queue.VerifyItem{Hostname: hostname, SourcePath: path, DestinationDir: "/dest/" + hostname}
	if err := f.verify.Push(context.Background(), item); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func (f *fixture) assertForwarded(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	if depth, _ := f.verify.Count(ctx); depth != 0 {
		t.Fatalf("expected verification item acknowledged, depth %d", depth)
	}
	entry, err := f.storage.Peek(ctx)
	if err != nil {
		t.Fatalf("expected storage item: %v", err)
	}
	if entry.Item.SourcePath != path {
		t.Fatalf("unexpected storage item %+v", entry.Item)
	}
	sentinel, err := f.stats.Peek(ctx)
	if err != nil || !sentinel.Item.IsNoop() {
		t.Fatalf("expected statistics sentinel, got %+v err=%v", sentinel.Item, err)
	}
}

func TestStepForwardsCleanFile(t *testing.T) {
	f := newFixture(t, nil)
	path := f.writeCSV(t, "clean.csv", 600, false)
	f.push(t, "unit-1", path)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.assertForwarded(t, path)
	if len(f.sink.Alerts()) != 0 {
		t.Fatalf("expected no alerts, got %+v", f.sink.Alerts())
	}
}

func TestStepAlertsOnStuckChannelButForwards(t *testing.T) {
	f := newFixture(t, nil)
	path := f.writeCSV(t, "stuck.csv", 600, true)
	f.push(t, "unit-1", path)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.assertForwarded(t, path)
	alert, ok := f.sink.Find(alerts.SubjectFileErrors, "voltage")
	if !ok {
		t.Fatalf("expected stuck channel alert, got %+v", f.sink.Alerts())
	}
	if strings.Contains(alert.Body, "current") {
		t.Fatalf("healthy channel reported: %q", alert.Body)
	}
}

func TestStepReportsSizeAndUnknownUnit(t *testing.T) {
	f := newFixture(t, nil)
	big := f.writeCSV(t, "big.csv", 150000, false)
	f.push(t, "unit-1", big)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := f.sink.Find(alerts.SubjectFileErrors, "too large"); !ok {
		t.Fatalf("expected size finding, got %+v", f.sink.Alerts())
	}

	f.sink.Reset()
	small := f.writeCSV(t, "ghost.csv", 5, false)
	f.push(t, "ghost-unit", small)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, ok := f.sink.Find(alerts.SubjectFileErrors, "ghost-unit"); !ok {
		t.Fatalf("expected unknown unit finding, got %+v", f.sink.Alerts())
	}
	if depth, _ := f.storage.Count(context.Background()); depth != 2 {
		t.Fatalf("both files must be forwarded, got %d", depth)
	}
}

func TestStepSkipsChannelChecksForUnsupportedFormat(t *testing.T) {
	f := newFixture(t, nil)
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(f.dir, "unit-1-2026-01-01T00-00-00.000000+0000-0000001.bin")
	if err := os.WriteFile(path, []byte("raw"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.push(t, "unit-1", path)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.assertForwarded(t, path)
	if len(f.sink.Alerts()) != 0 {
		t.Fatalf("unsupported format is not a finding, got %+v", f.sink.Alerts())
	}
}

func TestStepContainsReaderPanic(t *testing.T) {
	reader := samples.ReaderFunc(func(string) ([]samples.Channel, error) { panic("corrupt superblock") })
	f := newFixture(t, reader)
	path := f.writeCSV(t, "bad.csv", 2, false)
	f.push(t, "unit-1", path)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.assertForwarded(t, path)
	if _, ok := f.sink.Find(alerts.SubjectException, "corrupt superblock"); !ok {
		t.Fatalf("expected exception alert, got %+v", f.sink.Alerts())
	}
}

func TestStepMissingFileStillForwards(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.dir, "vanished.csv")
	f.push(t, "unit-1", path)
	if err := f.stage.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	f.assertForwarded(t, path)
	if f.sink.Count(alerts.SubjectException) != 1 {
		t.Fatalf("expected one exception alert, got %+v", f.sink.Alerts())
	}
}

func TestStepTimeoutAlerts(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.stage.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if f.sink.Count(alerts.SubjectNoFilesVerified) != 1 {
		t.Fatalf("expected stall alert, got %+v", f.sink.Alerts())
	}
}

func TestStepRefreshesStatisticsWhenForwardFails(t *testing.T) {
	f := newFixture(t, nil)
	cfg := testsupport.NewConfig(t)
	broken := testsupport.MustOpenStore(t, cfg)
	storage := testsupport.MustOpenChannel[queue.StoreItem](t, broken, queue.ChannelStorage)
	if err := broken.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reg, err := units.FromConfig(testsupport.NewConfig(t, testsupport.WithUnits(testsupport.Unit("unit-1"))))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	checker := verification.NewChecker(reg, samples.NewRegistry(), 3)
	st := verification.NewStage(cfg, checker, f.verify, storage, f.stats, f.sink, logging.NewNop(), nil)

	path := f.writeCSV(t, "unit-1-forward.csv", 8, false)
	f.push(t, "unit-1", path)
	if err := st.Step(context.Background()); err == nil {
		t.Fatal("expected forward failure")
	}
	if depth, _ := f.verify.Count(context.Background()); depth != 1 {
		t.Fatalf("expected item kept for retry, depth %d", depth)
	}
	if f.verify.Available() != 1 {
		t.Fatal("expected item released for the next attempt")
	}
	sentinel, err := f.stats.Peek(context.Background())
	if err != nil || !sentinel.Item.IsNoop() {
		t.Fatalf("expected statistics sentinel despite the failure, got %+v err=%v", sentinel.Item, err)
	}
}
