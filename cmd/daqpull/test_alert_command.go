package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"daqpull/internal/alerts"
	"daqpull/internal/logging"
)

func newTestAlertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-alert",
		Short: "Deliver a test alert through the configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			transport, err := alerts.NewTransport(cfg, logger)
			if err != nil {
				return err
			}
			host, _ := os.Hostname()
			msg := alerts.Compose(cfg.Alerts.SubjectPrefix, alerts.SubjectTest,
				fmt.Sprintf("Test alert from daqpull on %s via %s transport.", host, cfg.Alerts.Transport), time.Now())
			if err := transport.Deliver(cmd.Context(), msg); err != nil {
				return fmt.Errorf("deliver test alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered %q\n", msg.Subject)
			return nil
		},
	}
}
