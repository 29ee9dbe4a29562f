package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	StorageDir string `toml:"storage_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	ReportPath string `toml:"report_path"`
}

// Transfer contains remote listing and transfer settings shared by every collector.
type Transfer struct {
	SSHKeyPath      string `toml:"ssh_key_path"`
	RsyncBinary     string `toml:"rsync_binary"`
	SSHBinary       string `toml:"ssh_binary"`
	RemoteRoot      string `toml:"remote_root"`
	LivePrefix      string `toml:"live_prefix"`
	PersistedPrefix string `toml:"persisted_prefix"`
	FileExtension   string `toml:"file_extension"`
	ListTimeout     int    `toml:"list_timeout"`
	IOTimeout       int    `toml:"io_timeout"`
	TransferTimeout int    `toml:"transfer_timeout"`
}

// Collector contains per-unit polling cadence settings.
type Collector struct {
	PollInterval         int   `toml:"poll_interval"`
	PollJitter           int   `toml:"poll_jitter"`
	ExtendedSleep        int   `toml:"extended_sleep"`
	ExtendedJitter       int   `toml:"extended_jitter"`
	FilePause            int   `toml:"file_pause"`
	UnreachableBackoff   []int `toml:"unreachable_backoff"`
	LiveBacklogThreshold int   `toml:"live_backlog_threshold"`
}

// Space contains free-space floors for the staging and storage volumes.
type Space struct {
	MinFreeStagingGiB float64 `toml:"min_free_staging_gib"`
	MinFreeStorageGiB float64 `toml:"min_free_storage_gib"`
	RetryInterval     int     `toml:"retry_interval"`
}

// Workflow contains stage timing.
type Workflow struct {
	StageTimeout       int `toml:"stage_timeout"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Verification contains plausibility check thresholds.
type Verification struct {
	StuckRunLength int `toml:"stuck_run_length"`
}

// Alerts contains operator alert delivery settings.
type Alerts struct {
	Transport          string `toml:"transport"`
	SubjectPrefix      string `toml:"subject_prefix"`
	From               string `toml:"from"`
	To                 string `toml:"to"`
	SMTPAddr           string `toml:"smtp_addr"`
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
	SpoolDir           string `toml:"spool_dir"`
}

// Metrics contains the optional Prometheus endpoint settings.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for daqpull.
//
// Configuration sections by subsystem:
//   - Paths: staging, storage, state, and log directories
//   - Transfer: rsync/ssh invocation and remote layout
//   - Collector: polling cadence and unreachable-host backoff
//   - Space: free-space floors that trigger backpressure
//   - Workflow: stage stall timeout and error retry pacing
//   - Verification: plausibility thresholds
//   - Alerts: operator alert transport, dedup, and spool
//   - Metrics: Prometheus endpoint
//   - Logging: log format, level, and retention
//   - Units/UnitGroups: the acquisition fleet
type Config struct {
	Paths        Paths        `toml:"paths"`
	Transfer     Transfer     `toml:"transfer"`
	Collector    Collector    `toml:"collector"`
	Space        Space        `toml:"space"`
	Workflow     Workflow     `toml:"workflow"`
	Verification Verification `toml:"verification"`
	Alerts       Alerts       `toml:"alerts"`
	Metrics      Metrics      `toml:"metrics"`
	Logging      Logging      `toml:"logging"`
	Units        []Unit       `toml:"units"`
	UnitGroups   []UnitGroup  `toml:"unit_groups"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded, unit groups expanded into Units, and defaults applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("daqpull.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.StagingDir,
		c.Paths.StorageDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.ReportPath),
		c.Alerts.SpoolDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the channel and health database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "daqpull.lock")
}

// StatusPath returns the snapshot the daemon refreshes for "daqpull status".
func (c *Config) StatusPath() string {
	return filepath.Join(c.Paths.StateDir, "daqpull-status.json")
}

// PIDPath returns the file holding the running daemon's process ID.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "daqpull.pid")
}

// StageTimeout returns the stall-detection timeout used by every stage acquire.
func (c *Config) StageTimeout() time.Duration {
	return seconds(c.Workflow.StageTimeout)
}

// ErrorRetryInterval returns the delay before a supervised loop restarts after a failure.
func (c *Config) ErrorRetryInterval() time.Duration {
	return seconds(c.Workflow.ErrorRetryInterval)
}

// SpaceRetryInterval returns the free-space backpressure polling interval.
func (c *Config) SpaceRetryInterval() time.Duration {
	return seconds(c.Space.RetryInterval)
}

// MinFreeStagingBytes returns the staging free-space floor in bytes.
func (c *Config) MinFreeStagingBytes() uint64 {
	return gibToBytes(c.Space.MinFreeStagingGiB)
}

// MinFreeStorageBytes returns the storage free-space floor in bytes.
func (c *Config) MinFreeStorageBytes() uint64 {
	return gibToBytes(c.Space.MinFreeStorageGiB)
}

// UnreachableBackoff returns the escalating sleep schedule for unreachable hosts.
func (c *Config) UnreachableBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.Collector.UnreachableBackoff))
	for _, value := range c.Collector.UnreachableBackoff {
		out = append(out, seconds(value))
	}
	return out
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func gibToBytes(value float64) uint64 {
	if value <= 0 {
		return 0
	}
	return uint64(value * 1024 * 1024 * 1024)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
