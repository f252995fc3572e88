// Package profiling writes CPU, heap and execution-trace profiles for one
// command run, so slow refreshes and answers can be inspected with pprof.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output files. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Run is an active profiling session.
type Run struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop.
func Start(opts Options) (*Run, error) {
	r := &Run{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		r.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			_ = r.Stop()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			_ = r.Stop()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		r.traceFile = f
	}

	return r, nil
}

// Stop ends CPU profiling and tracing and writes the heap profile. Safe
// to call more than once; later calls do nothing.
func (r *Run) Stop() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, r.cpuFile.Close())
		r.cpuFile = nil
	}
	if r.traceFile != nil {
		trace.Stop()
		errs = append(errs, r.traceFile.Close())
		r.traceFile = nil
	}
	if r.opts.Heap != "" {
		errs = append(errs, writeHeap(r.opts.Heap))
		r.opts.Heap = ""
	}
	return errors.Join(errs...)
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile shows live objects only.
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
