// Package watcher notices changes to the supported files of a folder and
// triggers debounced refreshes.
//
// fsnotify is the primary source; folders where it cannot be used (network
// mounts, some container volumes) fall back to polling. Rapid events are
// coalesced per file before a batch is emitted.
package watcher

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Operation is a file system operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
	// OpConfigChange marks an edit of the folder's .amanrag.yaml.
	OpConfigChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a file directly inside the watched folder.
type FileEvent struct {
	// Name is the filename relative to the folder.
	Name      string
	Operation Operation
	Timestamp time.Time
}

// Watcher emits debounced batches of file events.
type Watcher interface {
	// Start watches folder until Stop is called or ctx is done.
	Start(ctx context.Context, folder string) error
	// Stop releases resources. Safe to call more than once.
	Stop() error
	// Events is closed when the watcher stops.
	Events() <-chan []FileEvent
	// Errors carries non-fatal errors; closed when the watcher stops.
	Errors() <-chan error
}

// ConfigFileNames are the per-folder config files whose edits are reported
// as OpConfigChange.
var ConfigFileNames = []string{".amanrag.yaml", ".amanrag.yml"}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	DebounceWindow time.Duration
	// PollInterval is the scan interval when polling.
	PollInterval time.Duration
	// EventBufferSize bounds buffered batches.
	EventBufferSize int
	// Extensions are the lowercase extensions, with dot, worth reporting.
	// Empty reports every non-hidden file.
	Extensions []string
	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// classify reports whether name is worth an event and whether it is a
// config file. Hidden files are skipped the same way the folder scan skips
// them, so the data directory never triggers a refresh.
func (o Options) classify(name string) (relevant, config bool) {
	base := filepath.Base(name)
	if slices.Contains(ConfigFileNames, base) {
		return true, true
	}
	if base != name || strings.HasPrefix(base, ".") {
		return false, false
	}
	if len(o.Extensions) == 0 {
		return true, false
	}
	return slices.Contains(o.Extensions, strings.ToLower(filepath.Ext(base))), false
}
