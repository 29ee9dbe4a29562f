package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"daqpull/internal/config"
	"daqpull/internal/health"
	"daqpull/internal/queue"
	"daqpull/internal/units"
)

func newUnitsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List configured units with their last known health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				registry, err := units.FromConfig(cfg)
				if err != nil {
					return err
				}
				tracker, err := health.LoadTracker(cmd.Context(), store, registry)
				if err != nil {
					return err
				}
				now := time.Now()
				active, inactive := tracker.Partition(now)
				report := health.BuildReport(now, nil, tracker, active, inactive)

				out := cmd.OutOrStdout()
				rows := make([][]string, 0, registry.Len())
				appendRows := func(list []health.Row, ok bool) {
					for _, r := range list {
						u, _ := registry.Lookup(r.Hostname)
						state := "active"
						if !ok {
							state = "inactive"
						}
						rows = append(rows, []string{
							r.Hostname,
							u.User + "@" + u.Address,
							humanize.IBytes(uint64(u.BandwidthBytesPerSec)) + "/s",
							u.Timeout.String(),
							r.ReceivedAt,
							r.Sequence,
							r.FileSize,
							colorState(out, state, ok),
						})
					}
				}
				appendRows(report.Active, true)
				appendRows(report.Inactive, false)

				fmt.Fprintln(out, renderTable(
					[]string{"Unit", "Remote", "Bandwidth", "Timeout", "Last file", "Seq", "Size", "State"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "%d active, %d inactive\n", len(active), len(inactive))
				return nil
			})
		},
	}
}
