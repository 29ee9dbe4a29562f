package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"daqpull/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, binaries, the SSH key, and alert delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				state := "ok"
				if !r.Passed {
					state = "fail"
					if !r.Fatal {
						state = "warn"
					}
				}
				rows = append(rows, []string{r.Name, colorState(out, state, r.Passed), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
			if fatal := preflight.Fatal(results); len(fatal) > 0 {
				return fmt.Errorf("%d fatal preflight check(s) failed", len(fatal))
			}
			return nil
		},
	}
}
