package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/logging"
)

type logsOptions struct {
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Long: `Show the last entries of the amanrag log (~/.amanrag/logs/server.log).

Examples:
  amanrag logs                    # Last 50 entries
  amanrag logs -n 200 --level warn
  amanrag logs --filter refresh   # Entries whose line matches a regex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter by keyword/pattern (regex)")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(w io.Writer, opts logsOptions) error {
	path := opts.logFile
	if path == "" {
		path = logging.DefaultLogPath()
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		var err error
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no log file at %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	minLevel := slog.LevelDebug
	if opts.level != "" {
		minLevel = logging.ParseLevel(opts.level)
	}

	// Keep the last n matching lines.
	var tail []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if pattern != nil && !pattern.MatchString(line) {
			continue
		}
		entry, ok := parseLogLine(line)
		if ok && entry.level < minLevel {
			continue
		}
		tail = append(tail, line)
		if opts.lines > 0 && len(tail) > opts.lines {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for _, line := range tail {
		entry, ok := parseLogLine(line)
		if !ok {
			_, _ = fmt.Fprintln(w, line)
			continue
		}
		_, _ = fmt.Fprintln(w, entry.format())
	}
	return nil
}

// levelColors applies only on a color terminal; color.NoColor is set
// otherwise, including under NO_COLOR.
var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgHiBlack),
	slog.LevelInfo:  color.New(color.FgCyan),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

type logEntry struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs map[string]any
}

// parseLogLine decodes one JSON handler line. Non-JSON lines are returned
// as-is by the caller.
func parseLogLine(line string) (logEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{}, false
	}
	e := logEntry{attrs: raw}
	if s, ok := raw[slog.TimeKey].(string); ok {
		e.time, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := raw[slog.LevelKey].(string); ok {
		e.level = logging.ParseLevel(s)
	}
	e.msg, _ = raw[slog.MessageKey].(string)
	delete(raw, slog.TimeKey)
	delete(raw, slog.LevelKey)
	delete(raw, slog.MessageKey)
	return e, true
}

func (e logEntry) format() string {
	var b strings.Builder
	b.WriteString(e.time.Local().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	level := fmt.Sprintf("%-5s", e.level.String())
	if c, ok := levelColors[e.level]; ok {
		level = c.Sprint(level)
	}
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(e.msg)

	keys := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.attrs[k])
	}
	return b.String()
}
