package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validateCollector(); err != nil {
		return err
	}
	if err := c.validateSpace(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAlerts(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateUnits()
}

func (c *Config) validateTransfer() error {
	if c.Transfer.LivePrefix == "" {
		return errors.New("transfer.live_prefix must be set")
	}
	if c.Transfer.PersistedPrefix == "" {
		return errors.New("transfer.persisted_prefix must be set")
	}
	if c.Transfer.LivePrefix == c.Transfer.PersistedPrefix {
		return errors.New("transfer.live_prefix and transfer.persisted_prefix must differ")
	}
	if c.Transfer.FileExtension == "" || c.Transfer.FileExtension == "." {
		return errors.New("transfer.file_extension must be set")
	}
	if !strings.HasPrefix(c.Transfer.RemoteRoot, "/") {
		return errors.New("transfer.remote_root must be an absolute path")
	}
	return ensurePositiveMap(map[string]int{
		"transfer.list_timeout":     c.Transfer.ListTimeout,
		"transfer.io_timeout":       c.Transfer.IOTimeout,
		"transfer.transfer_timeout": c.Transfer.TransferTimeout,
	})
}

func (c *Config) validateCollector() error {
	if err := ensurePositiveMap(map[string]int{
		"collector.poll_interval":          c.Collector.PollInterval,
		"collector.extended_sleep":         c.Collector.ExtendedSleep,
		"collector.live_backlog_threshold": c.Collector.LiveBacklogThreshold,
	}); err != nil {
		return err
	}
	if c.Collector.PollJitter < 0 {
		return errors.New("collector.poll_jitter must be >= 0")
	}
	if c.Collector.ExtendedJitter < 0 {
		return errors.New("collector.extended_jitter must be >= 0")
	}
	if c.Collector.FilePause < 0 {
		return errors.New("collector.file_pause must be >= 0")
	}
	for i, value := range c.Collector.UnreachableBackoff {
		if value <= 0 {
			return fmt.Errorf("collector.unreachable_backoff[%d] must be positive", i)
		}
	}
	return nil
}

func (c *Config) validateSpace() error {
	if c.Space.MinFreeStagingGiB < 0 {
		return errors.New("space.min_free_staging_gib must be >= 0")
	}
	if c.Space.MinFreeStorageGiB < 0 {
		return errors.New("space.min_free_storage_gib must be >= 0")
	}
	if c.Space.RetryInterval <= 0 {
		return errors.New("space.retry_interval must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.stage_timeout":        c.Workflow.StageTimeout,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Verification.StuckRunLength <= 0 {
		return errors.New("verification.stuck_run_length must be positive")
	}
	return nil
}

func (c *Config) validateAlerts() error {
	switch c.Alerts.Transport {
	case AlertTransportLog:
	case AlertTransportSMTP:
		if c.Alerts.SMTPAddr == "" {
			return errors.New("alerts.smtp_addr must be set when alerts.transport is smtp")
		}
		if c.Alerts.From == "" || c.Alerts.To == "" {
			return errors.New("alerts.from and alerts.to must be set when alerts.transport is smtp")
		}
	case AlertTransportNtfy:
		if c.Alerts.NtfyTopic == "" {
			return errors.New("alerts.ntfy_topic must be set when alerts.transport is ntfy")
		}
	default:
		return fmt.Errorf("alerts.transport %q is not one of log, smtp, ntfy", c.Alerts.Transport)
	}
	if c.Alerts.RequestTimeout <= 0 {
		return errors.New("alerts.request_timeout must be positive")
	}
	if c.Alerts.DedupWindowSeconds < 0 {
		return errors.New("alerts.dedup_window_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"console", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
