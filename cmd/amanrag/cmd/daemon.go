package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/async"
	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background question daemon",
		Long: `The daemon keeps folders open between questions: embedding models stay
loaded, collections stay in memory and the semantic cache survives, so
repeated "amanrag ask" calls answer quickly.

Examples:
  amanrag daemon start      # Start the daemon in the background
  amanrag daemon start -f   # Run in the foreground
  amanrag daemon status     # Show loaded folders
  amanrag daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if foreground {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runDaemonForeground(ctx, cmd, daemon.DefaultConfig())
			}
			return runDaemonBackground(cmd, daemon.DefaultConfig())
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long:  `Send SIGTERM to the daemon and wait for it to exit, then SIGKILL if needed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd, daemon.DefaultConfig())
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, daemon.DefaultConfig(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDaemonForeground(ctx context.Context, cmd *cobra.Command, cfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())

	if daemon.NewClient(cfg).IsRunning() {
		out.Status("ℹ️", "Daemon is already running")
		return nil
	}

	handler := newDaemonHandler(cfg.MaxFolders)
	defer handler.Close()

	d, err := daemon.New(cfg, handler)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	out.Status("🚀", "Daemon running in the foreground")
	out.Statusf("🔌", "Socket: %s", cfg.SocketPath)
	out.Statusf("📝", "Logs: %s", logging.DefaultLogPath())
	out.Status("💡", "Press Ctrl+C to stop")

	return d.Run(ctx)
}

// runDaemonBackground re-executes the binary in the foreground mode,
// detached into its own session, and waits for its socket.
func runDaemonBackground(cmd *cobra.Command, cfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())
	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("ℹ️", "Daemon is already running")
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	child := exec.Command(execPath, "daemon", "start", "--foreground")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice if it dies before listening.
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			if err == nil {
				err = errors.New("exit status 0")
			}
			return fmt.Errorf("daemon exited during start-up: %w (see %s)", err, logging.DefaultLogPath())
		case <-deadline:
			return errors.New("daemon did not start listening within 5s")
		case <-tick.C:
			if client.IsRunning() {
				out.Successf("Daemon started (pid %d)", child.Process.Pid)
				return nil
			}
		}
	}
}

func runDaemonStop(cmd *cobra.Command, cfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())
	pidFile := daemon.NewPIDFile(cfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("ℹ️", "Daemon is not running")
		return pidFile.Remove()
	}
	pid, err := pidFile.Read()
	if err != nil {
		return err
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid %d)", pid)
			return nil
		}
	}

	out.Warning("Daemon not responding, sending SIGKILL")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	_ = pidFile.Remove()
	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, cfg daemon.Config, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	client := daemon.NewClient(cfg)

	status := &daemon.StatusResult{}
	if client.IsRunning() {
		var err error
		if status, err = client.Status(ctx); err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if !status.Running {
		out.Status("⏸️", "Daemon is not running")
		out.Status("💡", "Run 'amanrag daemon start' to start it")
		return nil
	}

	out.Success("Daemon is running")
	out.Statusf("", "PID:     %d", status.PID)
	out.Statusf("", "Uptime:  %s", status.Uptime)
	out.Statusf("", "Socket:  %s", cfg.SocketPath)
	out.Statusf("", "Folders: %d", status.FoldersLoaded)
	for _, f := range status.Folders {
		out.Statusf("", "  %s (%d files, %s, %d refreshes)", f.Folder, f.Files, f.Refresh, f.Refreshes)
	}
	return nil
}

// daemonHandler serves questions for the folders the daemon holds open.
// The least recently used folder is closed once the limit is reached.
type daemonHandler struct {
	mu      sync.Mutex
	folders *lru.Cache[folderKey, *openFolder]
}

type folderKey struct {
	folder  string
	offline bool
}

// openFolder is one folder's app, pipeline and refresher. Requests hold
// the read lock; close takes the write lock so that eviction waits for
// in-flight questions.
type openFolder struct {
	mu        sync.RWMutex
	closed    bool
	app       *app
	pipeline  *pipeline.Pipeline
	refresher *async.Refresher
}

func newDaemonHandler(maxFolders int) *daemonHandler {
	folders, err := lru.NewWithEvict(maxFolders, func(key folderKey, f *openFolder) {
		slog.Info("daemon_folder_evicted", slog.String("folder", key.folder))
		go f.close()
	})
	if err != nil {
		// Only a non-positive size fails, which Config.Validate rejects.
		panic(err)
	}
	return &daemonHandler{folders: folders}
}

// folder returns the open folder for key, opening it on first use.
func (h *daemonHandler) folder(ctx context.Context, key folderKey) (*openFolder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if f, ok := h.folders.Get(key); ok {
		return f, nil
	}

	a, err := openApp(key.folder, key.offline)
	if err != nil {
		return nil, err
	}
	p, err := a.pipeline(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	collections, err := a.existingCollections(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	p.SetCollections(collections)
	a.loaders()

	quiet := ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	f := &openFolder{app: a, pipeline: p}
	f.refresher = async.NewRefresher(func(ctx context.Context) (*index.RefreshResult, error) {
		return a.refresh(ctx, quiet)
	}, func(res *index.RefreshResult) {
		p.Publish(res.Collections, res.Built)
	})

	h.folders.Add(key, f)
	slog.Info("daemon_folder_opened",
		slog.String("folder", a.folder),
		slog.Int("files", len(collections)))
	return f, nil
}

// Ask refreshes the folder unless asked not to and answers the question.
// A failed refresh falls back to the collections already loaded.
func (h *daemonHandler) Ask(ctx context.Context, params daemon.AskParams) (daemon.AskResult, error) {
	f, err := h.folder(ctx, folderKey{params.Folder, params.Offline})
	if err != nil {
		return daemon.AskResult{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return daemon.AskResult{}, errors.New("folder was closed, retry the question")
	}

	if !params.NoRefresh {
		if _, err := f.refresher.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return daemon.AskResult{}, err
			}
			slog.Warn("daemon_refresh_failed",
				slog.String("folder", params.Folder),
				slog.String("error", err.Error()))
		}
	}

	req := pipeline.Request{Question: params.Question}
	for _, m := range params.History {
		req.History = append(req.History, generate.Message{Role: m.Role, Content: m.Content})
	}
	ans, err := f.pipeline.Ask(ctx, req)
	if err != nil {
		return daemon.AskResult{}, err
	}

	res := daemon.AskResult{
		Answer:  ans.Text,
		Sources: ans.Sources,
		Cached:  ans.Cached,
	}
	if !ans.Scope.All {
		res.Scope = ans.Scope.Files
	}
	return res, nil
}

// Refresh brings one folder up to date.
func (h *daemonHandler) Refresh(ctx context.Context, params daemon.RefreshParams) (daemon.RefreshResult, error) {
	f, err := h.folder(ctx, folderKey{params.Folder, params.Offline})
	if err != nil {
		return daemon.RefreshResult{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return daemon.RefreshResult{}, errors.New("folder was closed, retry the refresh")
	}

	res, err := f.refresher.Refresh(ctx)
	if err != nil {
		return daemon.RefreshResult{}, err
	}

	out := daemon.RefreshResult{
		RunID:      res.RunID,
		Files:      res.Files(),
		Built:      res.Built,
		Unchanged:  res.Unchanged,
		Chunks:     res.Chunks,
		DurationMS: res.Duration.Milliseconds(),
	}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for name, ferr := range res.Failed {
			out.Failed[name] = ferr.Error()
		}
	}
	return out, nil
}

// Folders lists the open folders, most recently used last.
func (h *daemonHandler) Folders() []daemon.FolderStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []daemon.FolderStatus
	for _, key := range h.folders.Keys() {
		f, ok := h.folders.Peek(key)
		if !ok {
			continue
		}
		snap := f.refresher.Snapshot()
		out = append(out, daemon.FolderStatus{
			Folder:    key.folder,
			Files:     len(f.pipeline.Files()),
			Refresh:   string(snap.Status),
			Refreshes: snap.Refreshes,
		})
	}
	return out
}

// Close closes every open folder and waits for their requests.
func (h *daemonHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	open := h.folders.Values()
	h.folders.Purge()
	for _, f := range open {
		f.close()
	}
}

// close waits for in-flight requests and releases the folder. Safe to call
// more than once.
func (f *openFolder) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if err := f.app.Close(); err != nil {
		slog.Warn("daemon_folder_close_failed",
			slog.String("folder", f.app.folder),
			slog.String("error", err.Error()))
	}
}
