package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/async"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/ui"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "watch [folder]",
		Short: "Keep a folder's index up to date as files change",
		Long: `Refresh the index once, then watch the folder and refresh again
whenever supported files are added, modified or removed. Bursts of changes
are batched into a single refresh.

Press Ctrl+C to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cmd, folderArg(args), offline)
		},
	}

	addOfflineFlag(cmd, &offline)

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, folder string, offline bool) error {
	a, err := openApp(folder, offline)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	runner, err := a.runner(ctx, ui.NewPlainRenderer(ui.NewConfig(io.Discard)))
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	refresher := async.NewRefresher(
		func(ctx context.Context) (*index.RefreshResult, error) {
			return runner.Refresh(ctx, a.folder, a.dataDir)
		},
		func(res *index.RefreshResult) { reportRefresh(out, res) })

	if _, err := refresher.Refresh(ctx); err != nil {
		return err
	}

	w, err := newFolderWatcher(a)
	if err != nil {
		return err
	}
	out.Statusf("👀", "Watching %s (Ctrl+C to stop)", a.folder)

	err = watcher.NewAutoRefresher(w, refresher.RefreshFor).Run(ctx, a.folder)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportRefresh prints a one-line summary and one line per failed file.
func reportRefresh(out *output.Writer, res *index.RefreshResult) {
	out.Successf("Refreshed %d files (%d built, %d unchanged, %d failed), %d chunks",
		len(res.Collections)+len(res.Failed), len(res.Built), len(res.Unchanged), len(res.Failed), res.Chunks)
	if len(res.Built) > 0 {
		out.Statusf(" ", "Built: %s", strings.Join(res.Built, ", "))
	}

	failed := make([]string, 0, len(res.Failed))
	for name := range res.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		out.Errorf("%s: %v", name, res.Failed[name])
	}
}
