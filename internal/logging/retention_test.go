package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"daqpull/internal/logging"
)

func TestCleanupOldLogsPrunesMatchingOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "daqpull-20200101T000000.000Z.log")
	current := filepath.Join(dir, "daqpull-20200102T000000.000Z.log")
	fresh := filepath.Join(dir, "daqpull-20990101T000000.000Z.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -90)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	n := logging.CleanupOldLogs(logging.NewNop(), 30, logging.RetentionTarget{Dir: dir, Pattern: "daqpull-*.log", Exclude: []string{current}})
	if n != 1 {
		t.Fatalf("expected one file pruned, got %d", n)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s pruned", old)
	}
	for _, path := range []string{current, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daqpull-old.log")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(-1, 0, 0)
	_ = os.Chtimes(path, past, past)
	if n := logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir, Pattern: "*.log"}); n != 0 {
		t.Fatalf("expected nothing pruned, got %d", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file kept when retention disabled: %v", err)
	}
}

func TestCleanupOldLogsKeepsCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "daqpull-old.log")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	pointer := filepath.Join(dir, "daqpull-current.log")
	if err := os.Symlink(old, pointer); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}
	past := time.Now().AddDate(0, 0, -60)
	_ = os.Chtimes(old, past, past)

	if n := logging.CleanupOldLogs(nil, 7, logging.RetentionTarget{Dir: dir, Pattern: "daqpull-*.log"}); n != 1 {
		t.Fatalf("expected only the regular file pruned, got %d", n)
	}
	if _, err := os.Lstat(pointer); err != nil {
		t.Fatalf("expected symlink left alone: %v", err)
	}
}
