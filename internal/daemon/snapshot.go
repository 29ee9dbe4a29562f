package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"daqpull/internal/logging"
	"daqpull/internal/stage"
)

const defaultHeartbeat = 30 * time.Second

// Snapshot is the daemon state published for the CLI status command.
type Snapshot struct {
	UpdatedAt     time.Time      `json:"updated_at"`
	PID           int            `json:"pid"`
	Workers       []stage.Health `json:"workers"`
	Depths        map[string]int `json:"depths"`
	PendingAlerts int            `json:"pending_alerts"`
}

// ReadSnapshot loads the snapshot a running daemon last wrote to path.
func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode status snapshot %s: %w", path, err)
	}
	return snap, nil
}

func (d *Daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.publish(ctx)
		}
	}
}

// publish writes the snapshot and warns once for each worker that turns unhealthy.
func (d *Daemon) publish(ctx context.Context) {
	status := d.Status(ctx)
	failing := make(map[string]bool)
	for _, h := range status.Workflow.Unhealthy() {
		failing[h.Name] = true
		if d.failing[h.Name] {
			continue
		}
		logging.WarnWithContext(d.logger, "worker failing", "worker_unhealthy",
			logging.String("worker", h.Name),
			logging.Int("restarts", h.Restarts),
			logging.String("detail", h.Detail),
			logging.String(logging.FieldImpact, "worker restarts after the error retry interval"),
			logging.String(logging.FieldErrorHint, "see the worker's exception alert"),
		)
	}
	for name := range d.failing {
		if !failing[name] {
			d.logger.Info("worker recovered", logging.String("worker", name))
		}
	}
	d.failing = failing

	snap := Snapshot{
		UpdatedAt:     time.Now().UTC(),
		PID:           os.Getpid(),
		Workers:       status.Workflow.Workers,
		Depths:        status.Depths,
		PendingAlerts: status.PendingAlerts,
	}
	if err := writeSnapshot(d.cfg.StatusPath(), snap); err != nil {
		d.logger.Warn("write status snapshot", logging.Error(err))
	}
}

func writeSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
