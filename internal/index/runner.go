// Package index keeps one vector collection per source file current: it
// detects changed files, loads and chunks them, and builds their collections
// with bounded concurrency.
package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// DefaultLoadConcurrency bounds simultaneous file loads (parsing and
// transcription).
const DefaultLoadConcurrency = 5

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Registry loads documents by extension (required).
	Registry *ingest.Registry

	// Splitter chunks loaded documents (required).
	Splitter chunk.Splitter

	// Coordinator partitions files into changed and unchanged (required).
	Coordinator *ChangeCoordinator

	// Builder builds collections (required).
	Builder *Builder

	// Renderer for progress display. Nil discards progress.
	Renderer ui.Renderer

	// LoadConcurrency bounds simultaneous loads. Zero means the default.
	LoadConcurrency int

	// Workers bounds the load/chunk worker pool. Zero means NumCPU.
	Workers int
}

// RefreshResult is the outcome of one folder refresh.
type RefreshResult struct {
	RunID string

	// Collections maps every queryable filename to its collection.
	Collections map[string]string

	Built     []string
	Unchanged []string
	Failed    map[string]error
	Chunks    int
	Duration  time.Duration
}

// Files returns the queryable filenames in sorted order.
func (r *RefreshResult) Files() []string {
	files := make([]string, 0, len(r.Collections))
	for f := range r.Collections {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Runner refreshes a folder's collections.
type Runner struct {
	registry    *ingest.Registry
	splitter    chunk.Splitter
	coordinator *ChangeCoordinator
	builder     *Builder
	renderer    ui.Renderer
	loadSem     *semaphore.Weighted
	workers     int
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("loader registry is required")
	}
	if deps.Splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("change coordinator is required")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	}
	loads := deps.LoadConcurrency
	if loads <= 0 {
		loads = DefaultLoadConcurrency
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Runner{
		registry:    deps.Registry,
		splitter:    deps.Splitter,
		coordinator: deps.Coordinator,
		builder:     deps.Builder,
		renderer:    renderer,
		loadSem:     semaphore.NewWeighted(int64(loads)),
		workers:     workers,
	}, nil
}

// Refresh brings every supported file in folder up to date and returns the
// collections ready for querying. dataDir holds the cross-process refresh
// lock. Per-file failures are reported in the result, never returned.
func (r *Runner) Refresh(ctx context.Context, folder, dataDir string) (*RefreshResult, error) {
	lock := NewRefreshLock(dataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("refresh_unlock_failed", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	res := &RefreshResult{
		RunID:       uuid.NewString(),
		Collections: make(map[string]string),
		Failed:      make(map[string]error),
	}
	var timings ui.StageTimings
	log := slog.With(slog.String("run_id", res.RunID))
	log.Info("refresh_started", slog.String("folder", folder))

	// Stage 1: scan
	stageStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning " + folder})
	files, err := ingest.ScanFolder(folder, r.registry.Extensions())
	if err != nil {
		return nil, err
	}
	timings.Scan = time.Since(stageStart)

	// Stage 2: change detection
	stageStart = time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChecking, Total: len(files), Message: "Checking for changes"})
	part, err := r.coordinator.Partition(ctx, folder, files)
	if err != nil {
		return nil, err
	}
	for name, perr := range part.Errors {
		res.Failed[name] = perr
		r.renderer.AddError(ui.ErrorEvent{File: name, Err: perr, IsWarn: true})
	}
	res.Unchanged = part.Unchanged
	for name, collection := range r.builder.LoadExisting(ctx, part.Unchanged) {
		res.Collections[name] = collection
	}
	timings.Check = time.Since(stageStart)

	// Stage 3: load and chunk changed files
	stageStart = time.Now()
	chunksByFile := r.loadAll(ctx, folder, part.Build, res)
	timings.Load = time.Since(stageStart)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4: build
	stageStart = time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageBuilding, Total: len(chunksByFile), Message: "Building collections"})
	report := r.builder.Build(ctx, folder, chunksByFile)
	for _, fr := range report.Results {
		if fr.Err != nil {
			res.Failed[fr.Filename] = fr.Err
			r.renderer.AddError(ui.ErrorEvent{File: fr.Filename, Err: fr.Err})
			continue
		}
		res.Collections[fr.Filename] = fr.Collection
		res.Built = append(res.Built, fr.Filename)
		res.Chunks += fr.Chunks
	}
	timings.Build = time.Since(stageStart)

	res.Duration = time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Files:     len(files),
		Built:     len(res.Built),
		Unchanged: len(res.Unchanged),
		Failed:    len(res.Failed),
		Chunks:    res.Chunks,
		Duration:  res.Duration,
		Stages:    timings,
	})

	log.Info("refresh_complete",
		slog.Int("files", len(files)),
		slog.Int("built", len(res.Built)),
		slog.Int("unchanged", len(res.Unchanged)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("chunks", res.Chunks),
		slog.Int("peak_builds", r.builder.PeakBuilds()),
		slog.Int64("duration_scan_ms", timings.Scan.Milliseconds()),
		slog.Int64("duration_check_ms", timings.Check.Milliseconds()),
		slog.Int64("duration_load_ms", timings.Load.Milliseconds()),
		slog.Int64("duration_build_ms", timings.Build.Milliseconds()),
		slog.Int64("duration_total_ms", res.Duration.Milliseconds()))
	return res, nil
}

// loadAll loads and chunks files on the worker pool, each load also holding
// the load semaphore. Failed files are recorded in res and skipped.
func (r *Runner) loadAll(ctx context.Context, folder string, files []string, res *RefreshResult) map[string][]chunk.Chunk {
	var (
		mu     sync.Mutex
		out    = make(map[string][]chunk.Chunk, len(files))
		done   int
		failed = func(name string, err error) {
			res.Failed[name] = err
			r.renderer.AddError(ui.ErrorEvent{File: name, Err: err})
			slog.Error("file_load_failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	)

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, name := range files {
		g.Go(func() error {
			chunks, err := r.loadFile(ctx, filepath.Join(folder, name), name)

			mu.Lock()
			defer mu.Unlock()
			done++
			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage: ui.StageLoading, Current: done, Total: len(files), CurrentFile: name,
			})
			if err != nil {
				failed(name, err)
				return nil
			}
			out[name] = chunks
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Runner) loadFile(ctx context.Context, path, name string) ([]chunk.Chunk, error) {
	if err := r.loadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.loadSem.Release(1)

	docs, err := r.registry.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.splitter.Split(name, docs), nil
}
