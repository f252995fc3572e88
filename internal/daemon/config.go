// Package daemon keeps folders open in a background process so that CLI
// questions skip model start-up and reuse the semantic cache. The CLI talks
// to it over a Unix socket with one JSON-RPC request per connection.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path.
	// Default: ~/.amanrag/daemon.sock
	SocketPath string

	// PIDPath stores the daemon's process ID.
	// Default: ~/.amanrag/daemon.pid
	PIDPath string

	// Timeout bounds one request, including answer generation.
	// Default: 5m
	Timeout time.Duration

	// ShutdownGracePeriod is how long in-flight requests may finish after
	// a shutdown signal.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// MaxFolders is the number of folders kept open. The least recently
	// used folder is closed when exceeded.
	// Default: 5
	MaxFolders int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".amanrag")

	return Config{
		SocketPath:          filepath.Join(dir, "daemon.sock"),
		PIDPath:             filepath.Join(dir, "daemon.pid"),
		Timeout:             5 * time.Minute,
		ShutdownGracePeriod: 10 * time.Second,
		MaxFolders:          5,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return errors.New("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return errors.New("shutdown grace period must be positive")
	}
	if c.MaxFolders <= 0 {
		return errors.New("max folders must be positive")
	}
	return nil
}

// EnsureDir creates the directories of the socket and PID files.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory: %w", err)
		}
	}
	return nil
}
