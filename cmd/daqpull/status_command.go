package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"daqpull/internal/config"
	"daqpull/internal/daemon"
	"daqpull/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and unit health status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()

				running, err := daemon.InstanceRunning(cfg.LockPath())
				if err != nil {
					return fmt.Errorf("check daemon lock: %w", err)
				}
				state := "stopped"
				if running {
					state = "running"
					if pid, err := daemon.ReadPIDFile(cfg.PIDPath()); err == nil {
						state += " (pid " + strconv.Itoa(pid) + ")"
					}
				}
				fmt.Fprintf(out, "Daemon:   %s\n", colorState(out, state, running))
				snap, snapErr := daemon.ReadSnapshot(cfg.StatusPath())
				if running && snapErr == nil {
					fmt.Fprintf(out, "Alerts:   %d pending delivery\n", snap.PendingAlerts)
				}

				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return fmt.Errorf("check queue database: %w", err)
				}
				dbOK := health.IntegrityCheck && len(health.MissingTables) == 0
				dbState := fmt.Sprintf("%s (schema v%d, journal %s, synchronous %s)",
					health.DBPath, health.SchemaVersion, health.JournalMode, health.Synchronous)
				fmt.Fprintf(out, "Database: %s\n", colorState(out, dbState, dbOK))
				if len(health.MissingTables) > 0 {
					fmt.Fprintf(out, "          missing tables: %s\n", strings.Join(health.MissingTables, ", "))
				}
				fmt.Fprintln(out)

				rows := make([][]string, 0, len(health.Depths))
				for _, name := range queue.ChannelNames {
					rows = append(rows, []string{name, strconv.Itoa(health.Depths[name])})
				}
				fmt.Fprintln(out, renderTable([]string{"Channel", "Depth"}, rows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintln(out)

				if running && snapErr == nil && len(snap.Workers) > 0 {
					workers := make([][]string, 0, len(snap.Workers))
					for _, h := range snap.Workers {
						workers = append(workers, []string{h.Name, colorState(out, h.State(), h.Ready), strconv.Itoa(h.Restarts), truncate(h.Detail, 60)})
					}
					fmt.Fprintln(out, renderTable([]string{"Worker", "State", "Restarts", "Last error"}, workers,
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
					fmt.Fprintf(out, "Workers as of %s\n\n", humanize.Time(snap.UpdatedAt))
				}

				report, err := os.ReadFile(cfg.Paths.ReportPath)
				switch {
				case errors.Is(err, os.ErrNotExist):
					fmt.Fprintf(out, "No statistics report yet at %s\n", cfg.Paths.ReportPath)
				case err != nil:
					return fmt.Errorf("read statistics report: %w", err)
				default:
					fmt.Fprint(out, string(report))
				}
				return nil
			})
		},
	}
}
