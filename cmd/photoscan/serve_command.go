package main

import (
	"github.com/spf13/cobra"

	"photoscan/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var stdout bool
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconstruction daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Stdout:      stdout,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Mirror the daemon log to standard output")
	cmd.Flags().BoolVar(&development, "dev", false, "Use development log output")
	return cmd
}
