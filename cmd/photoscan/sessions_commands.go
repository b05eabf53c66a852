package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photoscan/internal/api"
	"photoscan/internal/config"
	"photoscan/internal/fileutil"
	"photoscan/internal/store"
	"photoscan/internal/workspace"
)

const defaultEventLimit = 20

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and manage capture sessions",
	}
	cmd.AddCommand(newSessionsListCommand(ctx))
	cmd.AddCommand(newSessionsShowCommand(ctx))
	cmd.AddCommand(newSessionsDeleteCommand(ctx))
	return cmd
}

func newSessionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sessions, err := loadSessions(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}
			fmt.Fprintln(out, renderSessionTable(cfg, sessions, time.Now()))
			return nil
		},
	}
}

// loadSessions asks the running daemon first so live sessions are flagged
// and falls back to reading the registry directly.
func loadSessions(cmdCtx context.Context, ctx *commandContext, cfg *config.Config) ([]api.Session, error) {
	client, err := ctx.apiClient()
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	reqCtx, cancel := context.WithTimeout(cmdCtx, statusTimeout)
	defer cancel()
	sessions, err := client.Sessions(reqCtx)
	if err == nil {
		return sessions, nil
	}
	if !api.IsUnavailable(err) {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer st.Close()
	rows, err := st.List(cmdCtx)
	if err != nil {
		return nil, err
	}
	sessions = make([]api.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, api.FromStoreSession(&rows[i], false))
	}
	return sessions, nil
}

func renderSessionTable(cfg *config.Config, sessions []api.Session, now time.Time) string {
	rows := make([][]string, 0, len(sessions))
	for _, sess := range sessions {
		updated := "-"
		if at, ok := api.ParseTime(sess.UpdatedAt); ok {
			updated = humanize.RelTime(at, now, "ago", "from now")
		}
		rows = append(rows, []string{
			sess.Title,
			sess.Flow,
			stateLabel(sess.State),
			strconv.Itoa(sess.ImageCount),
			sessionSize(cfg, sess.Title),
			updated,
			yesNo(sess.Live),
		})
	}
	headers := []string{"Title", "Flow", "State", "Images", "Size", "Updated", "Live"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
	return renderTable(headers, rows, aligns)
}

func sessionSize(cfg *config.Config, title string) string {
	layout, err := workspace.New(cfg.Paths.UploadsDir, title)
	if err != nil || !layout.Exists() {
		return "-"
	}
	size, err := fileutil.DirSize(layout.Dir())
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(size))
}

func newSessionsShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <title>",
		Short: "Show a session and its recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open registry: %w", err)
			}
			defer st.Close()

			title := args[0]
			sess, err := st.Get(cmd.Context(), title)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("session %s not found", title)
				}
				return err
			}
			events, err := st.Events(cmd.Context(), title, limit)
			if err != nil {
				return err
			}
			writeSessionDetail(cmd.OutOrStdout(), cfg, sess, events)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultEventLimit, "Number of recent events to show")
	return cmd
}

func writeSessionDetail(out io.Writer, cfg *config.Config, sess *store.Session, events []store.Event) {
	fmt.Fprintf(out, "Title:    %s\n", sess.Title)
	fmt.Fprintf(out, "Flow:     %s (%s)\n", sess.Flow, sess.Capture)
	fmt.Fprintf(out, "State:    %s\n", stateLabel(sess.State))
	if sess.Message != "" {
		fmt.Fprintf(out, "Message:  %s\n", sess.Message)
	}
	if sess.ErrorKind != "" {
		fmt.Fprintf(out, "Error:    %s\n", sess.ErrorKind)
	}
	fmt.Fprintf(out, "Images:   %d\n", sess.ImageCount)
	fmt.Fprintf(out, "Size:     %s\n", sessionSize(cfg, sess.Title))
	fmt.Fprintf(out, "Created:  %s\n", sess.CreatedAt.Local().Format(time.DateTime))

	if len(events) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.CreatedAt.Local().Format(time.TimeOnly),
			ev.Status,
			ev.Stage,
			ev.Step,
			ev.Message,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Time", "Status", "Stage", "Step", "Message"}, rows, nil))
}

func newSessionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <title>",
		Short: "Delete a session directory and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			title := args[0]
			layout, err := workspace.New(cfg.Paths.UploadsDir, title)
			if err != nil {
				return fmt.Errorf("invalid session title %q: %w", title, err)
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open registry: %w", err)
			}
			defer st.Close()

			flow := ""
			if sess, err := st.Get(cmd.Context(), title); err == nil {
				flow = sess.Flow
			}

			out := cmd.OutOrStdout()
			client, err := ctx.apiClient()
			if err != nil {
				return fmt.Errorf("api client: %w", err)
			}
			err = client.DeleteSession(cmd.Context(), flow, title)
			switch {
			case err == nil:
				fmt.Fprintf(out, "Deleted session %s\n", title)
				return nil
			case !api.IsUnavailable(err):
				return err
			}

			// The daemon is not running, so there is no live session to close.
			if err := layout.Remove(); err != nil {
				return err
			}
			if err := st.Delete(cmd.Context(), title); err != nil {
				return fmt.Errorf("delete registry entry: %w", err)
			}
			fmt.Fprintf(out, "Deleted session %s (daemon not running)\n", title)
			return nil
		},
	}
}
