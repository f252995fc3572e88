package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/async"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/preflight"
	"github.com/Aman-CERP/amanrag/internal/ui"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

type serveOptions struct {
	watch     bool
	offline   bool
	skipCheck bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [folder]",
		Short: "Serve a folder over MCP (stdio)",
		Long: `Start an MCP server on stdin/stdout for a folder.

The server answers from the collections already built while a background
refresh brings the index up to date. With --watch, file changes trigger
further refreshes.

Stdout carries only MCP messages; logs go to ~/.amanrag/logs/server.log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, folderArg(args), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Refresh automatically when files change")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight system checks")
	addOfflineFlag(cmd, &opts.offline)

	return cmd
}

func runServe(ctx context.Context, folder string, opts serveOptions) error {
	a, err := openApp(folder, opts.offline)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Nothing may reach stdout before the transport starts.
	if !opts.skipCheck && preflight.NeedsCheck(a.dataDir) {
		checker := preflight.New(a.cfg,
			preflight.WithOffline(opts.offline),
			preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, a.folder)
		if checker.HasCriticalFailures(results) {
			slog.Error("System check failed - run 'amanrag doctor' for diagnostics")
			return fmt.Errorf("system check failed")
		}
		if err := preflight.MarkPassed(a.dataDir); err != nil {
			slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
		}
	}

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	existing, err := a.existingCollections(ctx)
	if err != nil {
		return err
	}
	p.SetCollections(existing)

	runner, err := a.runner(ctx, ui.NewPlainRenderer(ui.NewConfig(io.Discard)))
	if err != nil {
		return err
	}
	sessions, err := a.sessions()
	if err != nil {
		return err
	}

	var server *mcp.Server
	refresher := async.NewRefresher(
		func(ctx context.Context) (*index.RefreshResult, error) {
			return runner.Refresh(ctx, a.folder, a.dataDir)
		},
		func(res *index.RefreshResult) {
			p.Publish(res.Collections, res.Built)
			if server != nil {
				server.SyncResources(res.Files())
			}
		})

	server, err = mcp.NewServer(mcp.Dependencies{
		Asker:     p,
		Refresher: refresher,
		Sessions:  sessions,
		Metrics:   a.metrics,
		Folder:    a.folder,
	})
	if err != nil {
		return err
	}
	server.SyncResources(p.Files())

	slog.Info("serve_starting",
		slog.String("folder", a.folder),
		slog.Int("collections", len(existing)),
		slog.Bool("watch", opts.watch))

	refresher.Start(ctx)

	if opts.watch {
		w, err := newFolderWatcher(a)
		if err != nil {
			return err
		}
		auto := watcher.NewAutoRefresher(w, refresher.RefreshFor)
		go func() {
			if err := auto.Run(ctx, a.folder); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher_stopped", slog.String("error", err.Error()))
			}
		}()
	}

	err = server.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newFolderWatcher watches the extensions the loaders accept.
func newFolderWatcher(a *app) (watcher.Watcher, error) {
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = config.Duration(a.cfg.Ingest.WatchDebounce, opts.DebounceWindow)
	opts.Extensions = a.loaders().Extensions()
	return watcher.NewFolderWatcher(opts)
}
