package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/preflight"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI   bool
		force   bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:     "index [folder]",
		Aliases: []string{"refresh"},
		Short:   "Build or refresh the index for a folder",
		Long: `Scan a folder and bring its index up to date.

Each supported file (pdf, docx, txt, md and audio) is fingerprinted by
content. Unchanged files keep their collection; new and modified files are
loaded, chunked, embedded and rebuilt in parallel.

Use --force to drop all index data and rebuild every file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runIndex(ctx, cmd, folderArg(args), noTUI, force, offline)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index data and rebuild from scratch")
	addOfflineFlag(cmd, &offline)

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, folder string, noTUI, force, offline bool) error {
	if force {
		abs, err := resolveFolder(folder)
		if err != nil {
			return err
		}
		cfg, err := config.Load(abs)
		if err != nil {
			return err
		}
		if err := clearIndexData(cfg.DataPath(abs)); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
		slog.Info("index_force_clear", slog.String("folder", abs))
	}

	a, err := openApp(folder, offline)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithFolder(a.folder)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	res, err := a.refresh(ctx, renderer)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if len(res.Collections) == 0 && len(res.Failed) > 0 {
		return fmt.Errorf("no file could be indexed (%d failed)", len(res.Failed))
	}

	// A successful build proves the data directory is writable.
	if err := preflight.MarkPassed(a.dataDir); err != nil {
		slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
	}
	return nil
}

// clearIndexData removes the database and local vector graphs. The folder
// config (.amanrag.yaml) and sessions are kept.
func clearIndexData(dataDir string) error {
	db := filepath.Join(dataDir, store.DatabaseName)
	paths := []string{
		db,
		db + "-shm",
		db + "-wal",
		filepath.Join(dataDir, "vectors"),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}
