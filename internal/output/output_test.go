package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BufferIsPlain(t *testing.T) {
	w := New(&bytes.Buffer{})
	assert.False(t, w.color)
}

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  string
	}{
		{"status with icon", func(w *Writer) { w.Status("•", "Scanning") }, "• Scanning\n"},
		{"status without icon", func(w *Writer) { w.Status("", "detail") }, "   detail\n"},
		{"success", func(w *Writer) { w.Successf("%d files", 2) }, "✓ 2 files\n"},
		{"warning", func(w *Writer) { w.Warning("Ollama not reachable") }, "! Ollama not reachable\n"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "boom") }, "✗ failed: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(NewPlain(buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Answer_WithSources(t *testing.T) {
	// Given: a plain writer
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	// When: printing an answer from two files
	w.Answer("  Revenue grew 12%.\n", []string{"report.pdf", "meeting.mp3"}, false)

	// Then: the trimmed answer is followed by the sources
	assert.Equal(t, "Revenue grew 12%.\n\nSources: report.pdf, meeting.mp3\n", buf.String())
}

func TestWriter_Sources_CachedAndEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Sources(nil, true)
	w.Sources(nil, false)

	out := buf.String()
	assert.Contains(t, out, "Answered from cache")
	assert.Contains(t, out, "No matching passages found")
}

func TestWriter_Fragment(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	require.NoError(t, w.Fragment("The team "))
	require.NoError(t, w.Fragment("will hire."))

	assert.Equal(t, "The team will hire.", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Progress(0, 0, "ignored")
	w.Progress(1, 2, "half")
	w.Progress(2, 2, "done")

	out := buf.String()
	assert.Contains(t, out, "50% half")
	assert.True(t, strings.HasSuffix(out, "100% done\n"))
	assert.Equal(t, strings.Repeat("█", 15)+strings.Repeat("░", 15), bar(1, 2, 30))
}
