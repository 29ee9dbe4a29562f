package health_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"daqpull/internal/health"
	"daqpull/internal/queue"
)

func TestSortHostnamesNaturalOrder(t *testing.T) {
	names := []string{"medal-10", "clear", "medal-2", "medal-1"}
	health.SortHostnames(names)
	want := []string{"clear", "medal-1", "medal-2", "medal-10"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order %v", names)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{15 * time.Minute, "0:15:00"},
		{25 * time.Hour, "1 day, 1:00:00"},
		{49*time.Hour + 90*time.Second, "2 days, 1:01:30"},
	}
	for _, tc := range tests {
		if got := health.FormatElapsed(tc.in); got != tc.want {
			t.Fatalf("FormatElapsed(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReportRenderAndWrite(t *testing.T) {
	reg := registry(t, "medal-10", "medal-2", "clear")
	tr := health.NewTracker(reg)
	now := time.Date(2016, 6, 4, 12, 0, 0, 0, time.UTC)
	tr.Apply(record("medal-10", 4, now.Add(-time.Minute)))
	tr.Apply(record("medal-2", 1, now.Add(-time.Minute)))

	active, inactive := tr.Partition(now)
	depths := map[string]int{queue.ChannelStatistics: 3, queue.ChannelVerification: 1, queue.ChannelStorage: 0}
	report := health.BuildReport(now, depths, tr, active, inactive)
	out := report.Render()

	for _, want := range []string{
		health.ReportTitle,
		"Statistics Queue: 3 items unprocessed",
		"Verification Queue: 1 items unprocessed",
		"Storage Queue: 0 items unprocessed",
		"Active:",
		"Inactive:",
		"30 MiB",
		"4.00 sec.",
		"1:00:00",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "medal-2") > strings.Index(out, "medal-10") {
		t.Fatalf("expected natural hostname order:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "logs", "statistics.txt")
	if err := report.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != out {
		t.Fatal("written report differs from rendering")
	}
}

func TestReportOmitsSectionLabelsWhenAllActive(t *testing.T) {
	tr := health.NewTracker(registry(t, "clear"))
	now := time.Now()
	tr.Apply(record("clear", 1, now))
	active, inactive := tr.Partition(now)
	out := health.BuildReport(now, nil, tr, active, inactive).Render()
	if strings.Contains(out, "Active:") || strings.Contains(out, "Inactive:") {
		t.Fatalf("labels should only appear with inactive units:\n%s", out)
	}
}
