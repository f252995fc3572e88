package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the limit below which refreshes fail outright.
const MinFileDescriptors = 256

// descriptorsPerWorker covers what one load or build holds open: the
// source file, the graph file and a model-server connection or two.
const descriptorsPerWorker = 4

// CheckFileDescriptors compares the open-file limit with what the
// configured load and build concurrency can use.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read the open-file limit: %v", err)
		return result
	}

	workers := c.cfg.Ingest.LoadConcurrency + c.cfg.Ingest.BuildConcurrency
	want := uint64(MinFileDescriptors + descriptorsPerWorker*workers)
	current := uint64(rLimit.Cur)
	result.Message = fmt.Sprintf("%d (suggested: %d)", current, want)

	switch {
	case current < MinFileDescriptors:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before indexing", want)
	case current < want:
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("load_concurrency=%d and build_concurrency=%d may exhaust it; lower them or raise the limit",
			c.cfg.Ingest.LoadConcurrency, c.cfg.Ingest.BuildConcurrency)
	default:
		result.Status = StatusPass
	}
	return result
}
