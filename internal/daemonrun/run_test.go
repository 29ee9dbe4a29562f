package daemonrun

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
	"daqpull/internal/preflight"
	"daqpull/internal/testsupport"
)

func TestRunLogPathCarriesRunID(t *testing.T) {
	runID := uuid.NewString()
	got := runLogPath("/var/log/daqpull", runID)
	if got != filepath.Join("/var/log/daqpull", "daqpull-"+runID+".log") {
		t.Fatalf("unexpected log path %q", got)
	}
	if ok, _ := filepath.Match("daqpull-*.log", filepath.Base(got)); !ok {
		t.Fatalf("log %q escapes the retention pattern", got)
	}
}

func TestAlertDisabledChecksOnlyWhenReaderMissing(t *testing.T) {
	sink := &testsupport.RecordingSink{}
	logger := logging.NewNop()

	alertDisabledChecks(context.Background(), []preflight.Result{preflight.CheckSampleReader(".csv")}, sink, logger)
	if n := len(sink.Alerts()); n != 0 {
		t.Fatalf("expected no alert with a reader present, got %d", n)
	}

	alertDisabledChecks(context.Background(), []preflight.Result{preflight.CheckSampleReader(".bin")}, sink, logger)
	if _, ok := sink.Find(alerts.SubjectChecksDisabled, "no reader for .bin"); !ok {
		t.Fatalf("expected channel checks alert, got %+v", sink.Alerts())
	}
}
