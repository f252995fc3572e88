package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Daemon ties the server to the PID file for one process lifetime.
type Daemon struct {
	cfg     Config
	server  *Server
	pidFile *PIDFile
}

// New creates a daemon serving handler.
func New(cfg Config, handler Handler) (*Daemon, error) {
	srv, err := NewServer(cfg, handler)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:     cfg,
		server:  srv,
		pidFile: NewPIDFile(cfg.PIDPath),
	}, nil
}

// Run claims the PID file and serves until ctx is cancelled. A cancelled
// context is a clean shutdown and returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.pidFile.Remove(); err != nil {
			slog.Warn("pidfile_remove_failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", d.cfg.SocketPath),
		slog.Int("max_folders", d.cfg.MaxFolders))

	err := d.server.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("daemon_stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}
