// Package output prints command results: status lines, answers with their
// sources, and streamed fragments.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/ui"
)

// Writer formats CLI output. Colors are used only on terminals without
// NO_COLOR.
type Writer struct {
	out    io.Writer
	styles ui.Styles
	color  bool
}

// New creates a Writer that colors output when out is a terminal.
func New(out io.Writer) *Writer {
	color := ui.IsTTY(out) && !ui.DetectNoColor()
	return &Writer{out: out, styles: ui.GetStyles(!color), color: color}
}

// NewPlain creates a Writer that never colors.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out, styles: ui.NoColorStyles()}
}

// Status prints msg after icon, or indented when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Fragment writes part of a streamed answer without a newline.
func (w *Writer) Fragment(s string) error {
	_, err := io.WriteString(w.out, s)
	return err
}

// Answer prints a complete answer followed by its sources.
func (w *Writer) Answer(text string, sources []string, cached bool) {
	_, _ = fmt.Fprintln(w.out, strings.TrimSpace(text))
	w.Sources(sources, cached)
}

// Sources prints the files an answer came from. Cached answers have no
// sources of their own and say so.
func (w *Writer) Sources(sources []string, cached bool) {
	_, _ = fmt.Fprintln(w.out)
	switch {
	case cached:
		_, _ = fmt.Fprintln(w.out, w.styles.Label.Render("Answered from cache"))
	case len(sources) == 0:
		_, _ = fmt.Fprintln(w.out, w.styles.Label.Render("No matching passages found"))
	default:
		_, _ = fmt.Fprintln(w.out, w.styles.Label.Render("Sources: ")+strings.Join(sources, ", "))
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints an in-place progress bar, ending the line when done.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func bar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(current*width/total, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
