package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photoscan/internal/api"
	"photoscan/internal/config"
	"photoscan/internal/deps"
	"photoscan/internal/preflight"
)

const statusTimeout = 3 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and directory status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return fmt.Errorf("api client: %w", err)
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()
			daemonStatus, daemonErr := client.Status(reqCtx)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeDaemonSection(out, cfg, daemonStatus, daemonErr, colorize)
			fmt.Fprintln(out)
			writeDependencySection(out, preflight.CheckSystemDeps(cfg), colorize)
			fmt.Fprintln(out)
			writeDirectorySection(out, preflight.RunAll(cfg), colorize)
			return nil
		},
	}
}

func writeDaemonSection(out io.Writer, cfg *config.Config, status api.DaemonStatus, statusErr error, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	switch {
	case statusErr == nil && status.Running:
		detail := fmt.Sprintf("pid %d", status.PID)
		if status.UptimeSeconds > 0 {
			detail += ", up " + (time.Duration(status.UptimeSeconds) * time.Second).String()
		}
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, detail, colorize))
		fmt.Fprintln(out, renderStatusLine("API", statusInfo, cfg.Paths.APIBind, colorize))
		fmt.Fprintln(out, renderStatusLine("Live sessions", statusInfo, fmt.Sprintf("%d", len(status.Sessions)), colorize))
		fmt.Fprintln(out, renderStatusLine("Active runs", statusInfo, fmt.Sprintf("%d", len(status.Runs)), colorize))
		if len(status.Runs) > 0 {
			rows := make([][]string, 0, len(status.Runs))
			for _, run := range status.Runs {
				started := "-"
				if at, ok := api.ParseTime(run.StartedAt); ok {
					started = humanize.Time(at)
				}
				rows = append(rows, []string{run.Session, stateLabel(run.State), run.Stage, started})
			}
			fmt.Fprintln(out, renderTable([]string{"Session", "State", "Stage", "Started"}, rows, nil))
		}
	case statusErr == nil || api.IsUnavailable(statusErr):
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Daemon", statusError, statusErr.Error(), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, cfg.DatabasePath(), colorize))
}

func writeDependencySection(out io.Writer, statuses []deps.Status, colorize bool) {
	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, status := range statuses {
		switch {
		case status.Available:
			fmt.Fprintln(out, renderStatusLine(status.Name, statusOK, status.Resolved, colorize))
		case status.Optional:
			fmt.Fprintln(out, renderStatusLine(status.Name, statusWarn, optionalDetail(status), colorize))
		default:
			fmt.Fprintln(out, renderStatusLine(status.Name, statusError, status.Detail, colorize))
		}
	}
}

func optionalDetail(status deps.Status) string {
	detail := strings.TrimSpace(status.Detail)
	if detail == "" {
		return "optional, not found"
	}
	return detail + " (optional)"
}

func writeDirectorySection(out io.Writer, results []preflight.Result, colorize bool) {
	for _, line := range renderSectionHeader("Directories", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, result := range results {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
}
