package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"daqpull/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and a single unit named "unit-1". Options run after the defaults.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "tmp")
	cfgVal.Paths.StorageDir = filepath.Join(base, "storage")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ReportPath = filepath.Join(base, "storage", "logs", "statistics.txt")
	cfgVal.Alerts.SpoolDir = filepath.Join(base, "state", "alerts")
	cfgVal.Transfer.SSHKeyPath = filepath.Join(base, "id_test")
	cfgVal.Space.MinFreeStagingGiB = 0
	cfgVal.Space.MinFreeStorageGiB = 0
	cfgVal.Units = []config.Unit{Unit("unit-1")}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// Unit returns a plausible unit table entry for hostname.
func Unit(hostname string) config.Unit {
	return config.Unit{
		Hostname:             hostname,
		Address:              "192.0.2.10",
		User:                 "daq",
		BandwidthBytesPerSec: 1 << 20,
		TimeoutMinutes:       25,
		RecordingMinutes:     15,
		MinFileSizeMiB:       0,
		MaxFileSizeMiB:       64,
	}
}

// WithUnits replaces the fleet table.
func WithUnits(units ...config.Unit) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Units = append([]config.Unit(nil), units...)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, rsync and ssh are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"rsync", "ssh"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
