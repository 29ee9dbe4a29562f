package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"daqpull/internal/config"
	"daqpull/internal/queue"
)

const maxPayloadWidth = 72

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show channel depths and the oldest pending entry of each",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				summaries, err := store.Summaries(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					head, since := "-", "-"
					if s.Depth > 0 {
						head = truncate(s.HeadPayload, maxPayloadWidth)
						since = humanize.RelTime(s.HeadSince, time.Now(), "ago", "from now")
					}
					rows = append(rows, []string{s.Name, strconv.Itoa(s.Depth), head, since})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Channel", "Depth", "Head", "Queued"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}
