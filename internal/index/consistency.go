package index

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingCollection is a tracking record whose collection is gone.
	InconsistencyMissingCollection InconsistencyType = iota
	// InconsistencyMissingFile is a tracking record whose file was removed.
	InconsistencyMissingFile
	// InconsistencyStale is a tracked file whose content changed since its build.
	InconsistencyStale
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingCollection:
		return "missing_collection"
	case InconsistencyMissingFile:
		return "missing_file"
	case InconsistencyStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Inconsistency represents one detected issue.
type Inconsistency struct {
	Type     InconsistencyType
	Filename string
	Details  string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Records         []store.FileRecord
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker compares tracking records against the folder and the
// vector index. It never modifies either.
type ConsistencyChecker struct {
	tracking store.TrackingStore
	index    store.VectorIndex
}

// NewConsistencyChecker creates a new checker.
func NewConsistencyChecker(tracking store.TrackingStore, index store.VectorIndex) *ConsistencyChecker {
	return &ConsistencyChecker{tracking: tracking, index: index}
}

// Check inspects every tracking record for folder.
func (c *ConsistencyChecker) Check(ctx context.Context, folder string) (*CheckResult, error) {
	start := time.Now()
	records, err := c.tracking.List(ctx)
	if err != nil {
		return nil, err
	}

	res := &CheckResult{Records: records}
	for _, rec := range records {
		exists, err := c.index.Exists(ctx, CollectionName(rec.Filename))
		if err != nil {
			return nil, err
		}
		if !exists {
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type:     InconsistencyMissingCollection,
				Filename: rec.Filename,
				Details:  "tracked but no collection stored",
			})
		}

		hash, err := Fingerprint(filepath.Join(folder, rec.Filename))
		switch {
		case errors.Is(err, amerrors.ErrNotFound):
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type:     InconsistencyMissingFile,
				Filename: rec.Filename,
				Details:  "file removed from folder",
			})
		case err != nil:
			return nil, err
		case hash != rec.ContentHash:
			res.Inconsistencies = append(res.Inconsistencies, Inconsistency{
				Type:     InconsistencyStale,
				Filename: rec.Filename,
				Details:  "modified since last build",
			})
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
