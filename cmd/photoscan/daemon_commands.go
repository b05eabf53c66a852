package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"photoscan/internal/daemonctl"
)

const (
	startWaitTimeout = 15 * time.Second
	stopGracePeriod  = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the photoscan daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon(cmd, ctx, logLevel)
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background photoscan daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd, ctx)
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the background photoscan daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(cmd, ctx); err != nil {
				return err
			}
			return startDaemon(cmd, ctx, logLevel)
		},
	}
	restartCmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for the daemon")

	return []*cobra.Command{startCmd, stopCmd, restartCmd}
}

func startDaemon(cmd *cobra.Command, ctx *commandContext, logLevel string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	result, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe, daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath,
		LogLevel:   logLevel,
	}, startWaitTimeout)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch result.State {
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
	default:
		fmt.Fprintf(out, "Daemon started (pid %d) on %s\n", result.PID, cfg.Paths.APIBind)
	}
	return nil
}

func stopDaemon(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	result, err := daemonctl.Stop(cmd.Context(), cfg, stopGracePeriod)
	if errors.Is(err, daemonctl.ErrNotRunning) {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}
	if err != nil {
		return err
	}
	if result.ForcedKill {
		fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
	} else {
		fmt.Fprintf(out, "Daemon stopped (pid %d)\n", result.PID)
	}
	return nil
}
