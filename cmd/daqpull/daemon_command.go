package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"daqpull/internal/daemon"
	"daqpull/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the pull daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			err = daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				return fmt.Errorf("another daqpull daemon holds %s", cfg.LockPath())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Development logging (source locations)")

	cmd.AddCommand(newDaemonStopCommand(ctx))
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			running, err := daemon.InstanceRunning(cfg.LockPath())
			if err != nil {
				return fmt.Errorf("check daemon lock: %w", err)
			}
			if !running {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			pid, err := daemon.ReadPIDFile(cfg.PIDPath())
			if err != nil {
				return fmt.Errorf("read pid file: %w", err)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("find daemon process %d: %w", pid, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon process %d: %w", pid, err)
			}
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				if running, _ := daemon.InstanceRunning(cfg.LockPath()); !running {
					fmt.Fprintf(out, "Daemon (pid %d) stopped\n", pid)
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			fmt.Fprintf(out, "Sent SIGTERM to pid %d; daemon still shutting down\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the daemon to release its lock")
	return cmd
}
