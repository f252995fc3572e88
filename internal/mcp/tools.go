package mcp

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/async"
)

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the folder's documents and recordings"`
	Session  string `json:"session,omitempty" jsonschema:"optional conversation name; earlier turns are used as chat history"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer  string   `json:"answer" jsonschema:"the generated answer"`
	Sources []string `json:"sources" jsonschema:"files whose passages were used, best first; empty for cached answers"`
	Cached  bool     `json:"cached" jsonschema:"true when a semantically similar question was answered before"`
	Scope   []string `json:"scope,omitempty" jsonschema:"files the question was restricted to by name or vocabulary"`
	Session string   `json:"session,omitempty" jsonschema:"conversation the turn was recorded in"`
}

// RefreshInput defines the input schema for the refresh_index tool (no parameters).
type RefreshInput struct{}

// RefreshOutput defines the output schema for the refresh_index tool.
type RefreshOutput struct {
	RunID      string            `json:"run_id"`
	Files      []string          `json:"files" jsonschema:"queryable files after the refresh"`
	Built      []string          `json:"built" jsonschema:"files whose collections were rebuilt"`
	Unchanged  []string          `json:"unchanged" jsonschema:"files reused from the previous index"`
	Failed     map[string]string `json:"failed,omitempty" jsonschema:"files that could not be indexed, with the reason"`
	Chunks     int               `json:"chunks" jsonschema:"chunks written by this refresh"`
	DurationMS int64             `json:"duration_ms"`
}

// ListFilesInput defines the input schema for the list_files tool (no parameters).
type ListFilesInput struct{}

// ListFilesOutput defines the output schema for the list_files tool.
type ListFilesOutput struct {
	Folder string   `json:"folder"`
	Files  []string `json:"files" jsonschema:"queryable filenames in sorted order"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
// Times are RFC 3339 strings and empty before the first refresh.
type IndexStatusOutput struct {
	Folder     string            `json:"folder"`
	Status     string            `json:"status" jsonschema:"idle, refreshing, ready, or error"`
	RunID      string            `json:"run_id,omitempty"`
	Files      []string          `json:"files" jsonschema:"queryable files after the last refresh"`
	Built      []string          `json:"built,omitempty"`
	Unchanged  []string          `json:"unchanged,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
	Chunks     int               `json:"chunks"`
	Refreshes  int               `json:"refreshes"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

func newIndexStatusOutput(folder string, snap async.Snapshot) IndexStatusOutput {
	return IndexStatusOutput{
		Folder:     folder,
		Status:     string(snap.Status),
		RunID:      snap.RunID,
		Files:      nonNil(snap.Files),
		Built:      snap.Built,
		Unchanged:  snap.Unchanged,
		Failed:     snap.Failed,
		Chunks:     snap.Chunks,
		Refreshes:  snap.Refreshes,
		StartedAt:  formatTime(snap.StartedAt),
		FinishedAt: formatTime(snap.FinishedAt),
		DurationMS: snap.DurationMS,
		Error:      snap.Error,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
