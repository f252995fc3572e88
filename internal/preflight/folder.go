package preflight

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/ingest"
)

// CheckFolder checks that folder exists and holds supported files. An empty
// folder is only a warning; the index is simply empty until files arrive.
func (c *Checker) CheckFolder(folder string) CheckResult {
	result := CheckResult{
		Name:     "folder",
		Required: true,
	}

	files, err := ingest.ScanFolder(folder, c.cfg.Ingest.SupportedExts)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	if len(files) == 0 {
		result.Status = StatusWarn
		result.Message = "no supported files"
		result.Details = "Supported: " + strings.Join(c.cfg.Ingest.SupportedExts, ", ")
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d supported file(s)", len(files))
	result.Details = strings.Join(files, ", ")
	return result
}
