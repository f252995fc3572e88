package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/session"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newSessionsCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage named conversations",
		Long: `List, show, delete, or prune the named conversations of a folder.

Sessions are created by 'amanrag ask --session NAME' or the MCP ask tool
and keep the question/answer history used for follow-up questions.

Examples:
  # List all sessions
  amanrag sessions -C ~/notes

  # Show a conversation
  amanrag sessions show q3

  # Remove sessions older than 30 days
  amanrag sessions prune --older-than=30d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd, folder)
		},
	}

	cmd.PersistentFlags().StringVarP(&folder, "folder", "C", ".", "Folder whose sessions to manage")

	cmd.AddCommand(newSessionsShowCmd(&folder))
	cmd.AddCommand(newSessionsDeleteCmd(&folder))
	cmd.AddCommand(newSessionsPruneCmd(&folder))

	return cmd
}

func newSessionsShowCmd(folder *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print a session's questions and answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, *folder, args[0])
		},
	}
}

func newSessionsDeleteCmd(folder *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, *folder, args[0])
		},
	}
}

func newSessionsPruneCmd(folder *string) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old sessions",
		Long: `Remove sessions that haven't been used within the specified duration.

Examples:
  # Remove sessions not used in 30 days
  amanrag sessions prune --older-than=30d

  # Remove sessions not used in 12 hours
  amanrag sessions prune --older-than=12h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsPrune(cmd, *folder, olderThan)
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "30d", "Remove sessions older than this duration (e.g., 7d, 30d)")

	return cmd
}

// sessionManager opens the session store of folder without touching the
// index database.
func sessionManager(folder string) (*session.Manager, error) {
	root, err := resolveFolder(folder)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(cfg.DataPath(root), sessionsDirName),
	})
}

func runSessionsList(cmd *cobra.Command, folder string) error {
	mgr, err := sessionManager(folder)
	if err != nil {
		return err
	}

	sessions, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "")
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Start one with: amanrag ask --session NAME \"...\"")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTURNS\tLAST USED\tSIZE\tSTATUS")
	_, _ = fmt.Fprintln(w, "----\t-----\t---------\t----\t------")
	for _, s := range sessions {
		status := "valid"
		if !s.Valid {
			status = "folder missing"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.Name, s.Turns, formatTimeAgo(s.LastUsed), ui.FormatBytes(s.Size), status)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, folder, name string) error {
	mgr, err := sessionManager(folder)
	if err != nil {
		return err
	}
	s, err := mgr.Get(name)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("💬", "%s (%d turns, last used %s)", s.Name, len(s.Turns), formatTimeAgo(s.LastUsed))
	for _, t := range s.Turns {
		out.Newline()
		out.Statusf("?", "%s", t.Question)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(t.Answer))
		out.Sources(t.Sources, t.Cached)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, folder, name string) error {
	mgr, err := sessionManager(folder)
	if err != nil {
		return err
	}
	if !mgr.Exists(name) {
		return fmt.Errorf("session '%s' not found", name)
	}
	if err := mgr.Delete(name); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session '%s' deleted.\n", name)
	return nil
}

func runSessionsPrune(cmd *cobra.Command, folder, olderThan string) error {
	duration, err := parseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", olderThan, err)
	}

	mgr, err := sessionManager(folder)
	if err != nil {
		return err
	}
	count, err := mgr.Prune(duration)
	if err != nil {
		return fmt.Errorf("failed to prune sessions: %w", err)
	}

	if count == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No sessions to prune.")
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d session(s).\n", count)
	}
	return nil
}

// parseDuration parses a duration string like "30d", "7d", "24h".
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// formatTimeAgo formats a time as a human-readable "ago" string.
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
