package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTransfer(); err != nil {
		return err
	}
	c.normalizeCollector()
	if err := c.normalizeAlerts(); err != nil {
		return err
	}
	c.normalizeMetrics()
	c.normalizeLogging()
	return c.normalizeUnits()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		c.Paths.StorageDir = defaultStorageDir
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportPath) == "" {
		c.Paths.ReportPath = filepath.Join(c.Paths.StorageDir, "logs", defaultReportName)
	}
	if c.Paths.ReportPath, err = expandPath(c.Paths.ReportPath); err != nil {
		return fmt.Errorf("paths.report_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeTransfer() error {
	if value, ok := os.LookupEnv("SSH_KEY_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Transfer.SSHKeyPath = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Transfer.SSHKeyPath) == "" {
		c.Transfer.SSHKeyPath = defaultSSHKeyPath
	}
	var err error
	if c.Transfer.SSHKeyPath, err = expandPath(c.Transfer.SSHKeyPath); err != nil {
		return fmt.Errorf("transfer.ssh_key_path: %w", err)
	}
	c.Transfer.RsyncBinary = strings.TrimSpace(c.Transfer.RsyncBinary)
	if c.Transfer.RsyncBinary == "" {
		c.Transfer.RsyncBinary = defaultRsyncBinary
	}
	c.Transfer.SSHBinary = strings.TrimSpace(c.Transfer.SSHBinary)
	if c.Transfer.SSHBinary == "" {
		c.Transfer.SSHBinary = defaultSSHBinary
	}
	c.Transfer.RemoteRoot = strings.TrimRight(strings.TrimSpace(c.Transfer.RemoteRoot), "/")
	if c.Transfer.RemoteRoot == "" {
		c.Transfer.RemoteRoot = defaultRemoteRoot
	}
	c.Transfer.LivePrefix = strings.TrimSpace(c.Transfer.LivePrefix)
	c.Transfer.PersistedPrefix = strings.TrimSpace(c.Transfer.PersistedPrefix)
	ext := strings.ToLower(strings.TrimSpace(c.Transfer.FileExtension))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Transfer.FileExtension = ext
	return nil
}

func (c *Config) normalizeCollector() {
	if len(c.Collector.UnreachableBackoff) == 0 {
		c.Collector.UnreachableBackoff = defaultUnreachableBackoff()
	}
}

func (c *Config) normalizeAlerts() error {
	c.Alerts.Transport = strings.ToLower(strings.TrimSpace(c.Alerts.Transport))
	if c.Alerts.Transport == "" {
		c.Alerts.Transport = defaultAlertTransport
	}
	c.Alerts.SubjectPrefix = strings.TrimSpace(c.Alerts.SubjectPrefix)
	c.Alerts.From = strings.TrimSpace(c.Alerts.From)
	c.Alerts.To = strings.TrimSpace(c.Alerts.To)
	c.Alerts.SMTPAddr = strings.TrimSpace(c.Alerts.SMTPAddr)
	c.Alerts.NtfyTopic = strings.TrimSpace(c.Alerts.NtfyTopic)
	if c.Alerts.NtfyTopic == "" {
		if value, ok := os.LookupEnv("DAQPULL_NTFY_TOPIC"); ok {
			c.Alerts.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Alerts.SpoolDir) == "" {
		c.Alerts.SpoolDir = filepath.Join(c.Paths.StateDir, "alerts")
	}
	var err error
	if c.Alerts.SpoolDir, err = expandPath(c.Alerts.SpoolDir); err != nil {
		return fmt.Errorf("alerts.spool_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
