package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FileStatus is one tracked file.
type FileStatus struct {
	Filename    string    `json:"filename"`
	Collection  string    `json:"collection"`
	Chunks      int       `json:"chunks"`
	ProcessedAt time.Time `json:"processed_at"`
	State       string    `json:"state"` // "current", "stale", "missing_file", "missing_collection"
}

// StatusInfo describes a folder's index.
type StatusInfo struct {
	Folder        string       `json:"folder"`
	Files         []FileStatus `json:"files"`
	TotalChunks   int          `json:"total_chunks"`
	DatabaseSize  int64        `json:"database_size"`
	VectorBackend string       `json:"vector_backend"`
	EmbedderModel string       `json:"embedder_model"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable table.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index status: "+info.Folder))

	if len(info.Files) == 0 {
		_, _ = fmt.Fprintln(r.out, "  No files indexed yet. Run: amanrag index "+info.Folder)
	}
	for _, f := range info.Files {
		_, _ = fmt.Fprintf(r.out, "  %-32s %5d chunks  %-14s %s\n",
			f.Filename, f.Chunks, formatTime(f.ProcessedAt), r.renderState(f.State))
	}

	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  Files:    %d\n", len(info.Files))
	_, _ = fmt.Fprintf(r.out, "  Chunks:   %d\n", info.TotalChunks)
	_, _ = fmt.Fprintf(r.out, "  Database: %s\n", FormatBytes(info.DatabaseSize))
	_, _ = fmt.Fprintf(r.out, "  Vectors:  %s\n", info.VectorBackend)
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "  Embedder: %s\n", info.EmbedderModel)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "current":
		return r.styles.Success.Render(state)
	case "stale":
		return r.styles.Warning.Render(state)
	default:
		return r.styles.Error.Render(state)
	}
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
