package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"daqpull/internal/config"
)

const minimalFleet = `
[[units]]
hostname = "clear"
address = "192.168.1.222"
user = "clear"
bandwidth_bytes_per_sec = 15000
timeout_minutes = 11
recording_minutes = 5
min_file_size_mib = 100
max_file_size_mib = 120
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SSH_KEY_PATH", "")

	path := writeConfig(t, minimalFleet)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "daqpull", "tmp")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	wantReport := filepath.Join(cfg.Paths.StorageDir, "logs", "statistics.txt")
	if cfg.Paths.ReportPath != wantReport {
		t.Fatalf("unexpected report path: got %q want %q", cfg.Paths.ReportPath, wantReport)
	}
	if cfg.Alerts.SpoolDir != filepath.Join(cfg.Paths.StateDir, "alerts") {
		t.Fatalf("unexpected spool dir: %q", cfg.Alerts.SpoolDir)
	}
	if cfg.Transfer.SSHKeyPath != filepath.Join(tempHome, ".ssh", "id_ed25519") {
		t.Fatalf("unexpected ssh key path: %q", cfg.Transfer.SSHKeyPath)
	}
	if cfg.StageTimeout() != 30*time.Minute {
		t.Fatalf("unexpected stage timeout: %s", cfg.StageTimeout())
	}
	if cfg.SpaceRetryInterval() != 5*time.Minute {
		t.Fatalf("unexpected space retry interval: %s", cfg.SpaceRetryInterval())
	}
	if cfg.MinFreeStorageBytes() != 4*1024*1024*1024 {
		t.Fatalf("unexpected storage floor: %d", cfg.MinFreeStorageBytes())
	}
	backoff := cfg.UnreachableBackoff()
	if len(backoff) != 7 || backoff[0] != 30*time.Second || backoff[6] != 300*time.Second {
		t.Fatalf("unexpected backoff schedule: %v", backoff)
	}
	if cfg.Verification.StuckRunLength != 500 {
		t.Fatalf("unexpected stuck run length: %d", cfg.Verification.StuckRunLength)
	}
	if cfg.Alerts.SubjectPrefix != "[Energy-DAQ]" {
		t.Fatalf("unexpected subject prefix: %q", cfg.Alerts.SubjectPrefix)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StorageDir, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Alerts.SpoolDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadUsesSSHKeyFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	keyPath := filepath.Join(t.TempDir(), "daq_key")
	t.Setenv("SSH_KEY_PATH", keyPath)

	cfg, _, _, err := config.Load(writeConfig(t, minimalFleet))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transfer.SSHKeyPath != keyPath {
		t.Fatalf("expected key path from env, got %q", cfg.Transfer.SSHKeyPath)
	}
}

func TestLoadRejectsEmptyFleet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, _, _, err := config.Load(writeConfig(t, "[logging]\nlevel = \"debug\"\n"))
	if err == nil {
		t.Fatal("expected error for config without units")
	}
	if !strings.Contains(err.Error(), "daqpull config init") {
		t.Fatalf("expected hint to create config, got %v", err)
	}
}

func TestUnitGroupsExpandIntoNumberedUnits(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	body := minimalFleet + `
[[unit_groups]]
prefix = "medal"
count = 15
address_base = "192.168.1.200"
user = "medal"
bandwidth_bytes_per_sec = 6000
timeout_minutes = 25
recording_minutes = 15
min_file_size_mib = 25
max_file_size_mib = 37
`
	cfg, _, _, err := config.Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Units) != 16 {
		t.Fatalf("expected 16 units, got %d", len(cfg.Units))
	}
	if cfg.Units[0].Hostname != "clear" {
		t.Fatalf("explicit units should come first, got %q", cfg.Units[0].Hostname)
	}
	first, last := cfg.Units[1], cfg.Units[15]
	if first.Hostname != "medal-1" || first.Address != "192.168.1.200" {
		t.Fatalf("unexpected first group member: %+v", first)
	}
	if last.Hostname != "medal-15" || last.Address != "192.168.1.214" {
		t.Fatalf("unexpected last group member: %+v", last)
	}
	if last.User != "medal" || last.MaxFileSizeMiB != 37 {
		t.Fatalf("group settings not propagated: %+v", last)
	}
	if len(cfg.UnitGroups) != 0 {
		t.Fatalf("expected groups folded into units, got %d", len(cfg.UnitGroups))
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "duplicate hostname",
			body: minimalFleet + minimalFleet,
			want: "listed more than once",
		},
		{
			name: "inverted size bounds",
			body: strings.Replace(minimalFleet, "min_file_size_mib = 100", "min_file_size_mib = 200", 1),
			want: "max_file_size_mib",
		},
		{
			name: "unknown transport",
			body: "[alerts]\ntransport = \"pager\"\n" + minimalFleet,
			want: "alerts.transport",
		},
		{
			name: "smtp without address",
			body: "[alerts]\ntransport = \"smtp\"\n" + minimalFleet,
			want: "alerts.smtp_addr",
		},
		{
			name: "non-positive stage timeout",
			body: "[workflow]\nstage_timeout = 0\n" + minimalFleet,
			want: "workflow.stage_timeout",
		},
		{
			name: "same prefixes",
			body: "[transfer]\nlive_prefix = \"x\"\npersisted_prefix = \"x\"\n" + minimalFleet,
			want: "must differ",
		},
		{
			name: "bad group address",
			body: "[[unit_groups]]\nprefix = \"medal\"\ncount = 2\naddress_base = \"not-an-ip\"\n",
			want: "address_base",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFileExtensionGetsLeadingDot(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, _, _, err := config.Load(writeConfig(t, "[transfer]\nfile_extension = \"HDF5\"\n"+minimalFleet))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transfer.FileExtension != ".hdf5" {
		t.Fatalf("unexpected extension: %q", cfg.Transfer.FileExtension)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_KEY_PATH", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if len(cfg.Units) != 16 {
		t.Fatalf("expected sample fleet of 16 units, got %d", len(cfg.Units))
	}
}
