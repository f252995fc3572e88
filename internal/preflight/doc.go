// Package preflight checks that a folder can be indexed and answered from
// before the first refresh: the folder and its data directory, free disk
// space, file descriptor limits, and the model services the configuration
// points at.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx, folder)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
