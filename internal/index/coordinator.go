package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Reasons reported by NeedsUpdate.
const (
	ReasonNotFound  = "File not found"
	ReasonNew       = "New file"
	ReasonModified  = "File modified"
	ReasonUnchanged = "File unchanged"
)

// ChangeCoordinator decides per file whether its collection must be rebuilt,
// by comparing the file's content hash with its tracking record.
type ChangeCoordinator struct {
	tracking store.TrackingStore
}

// NewChangeCoordinator creates a coordinator over tracking.
func NewChangeCoordinator(tracking store.TrackingStore) *ChangeCoordinator {
	return &ChangeCoordinator{tracking: tracking}
}

// NeedsUpdate reports whether filename (at filePath) needs a build and why.
// A missing file returns false with an error matching ErrNotFound. It has no
// side effects.
func (c *ChangeCoordinator) NeedsUpdate(ctx context.Context, filePath, filename string) (bool, string, error) {
	hash, err := Fingerprint(filePath)
	if err != nil {
		if errors.Is(err, amerrors.ErrNotFound) {
			return false, ReasonNotFound, err
		}
		return false, "", err
	}

	rec, found, err := c.tracking.Get(ctx, filename)
	if err != nil {
		return false, "", fmt.Errorf("lookup %s: %w", filename, err)
	}
	switch {
	case !found:
		return true, ReasonNew, nil
	case rec.ContentHash != hash:
		return true, ReasonModified, nil
	default:
		return false, ReasonUnchanged, nil
	}
}

// Partition is the outcome of checking a set of files.
type Partition struct {
	Build     []string          // new or modified, in input order
	Unchanged []string          // current, in input order
	Reasons   map[string]string // filename → reason
	Errors    map[string]error  // files that could not be checked
}

// Partition runs NeedsUpdate for each filename inside folder. Missing and
// unreadable files land in neither set.
func (c *ChangeCoordinator) Partition(ctx context.Context, folder string, filenames []string) (Partition, error) {
	p := Partition{
		Reasons: make(map[string]string, len(filenames)),
		Errors:  make(map[string]error),
	}
	for _, name := range filenames {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		needs, reason, err := c.NeedsUpdate(ctx, filepath.Join(folder, name), name)
		if err != nil {
			slog.Warn("change_check_failed",
				slog.String("file", name),
				slog.String("error", err.Error()))
			p.Errors[name] = err
			if reason != "" {
				p.Reasons[name] = reason
			}
			continue
		}
		p.Reasons[name] = reason
		if needs {
			p.Build = append(p.Build, name)
		} else {
			p.Unchanged = append(p.Unchanged, name)
		}
	}
	return p, nil
}
