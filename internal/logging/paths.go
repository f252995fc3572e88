package logging

import (
	"os"
	"path/filepath"
)

// LogDirEnv overrides the log directory.
const LogDirEnv = "AMANRAG_LOG_DIR"

// logFileName is shared by the CLI, the MCP server and the daemon.
const logFileName = "server.log"

// DefaultLogDir returns $AMANRAG_LOG_DIR, else ~/.amanrag/logs, else a
// directory under the system temp dir when there is no home.
func DefaultLogDir() string {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir
	}
	base := os.TempDir()
	if home, err := os.UserHomeDir(); err == nil {
		base = home
	}
	return filepath.Join(base, ".amanrag", "logs")
}

// DefaultLogPath returns the shared log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), logFileName)
}
