package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws a live refresh view with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *refreshModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails for non-TTY output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newRefreshModel(tracker, cfg.Folder)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	if r.program != nil {
		r.program.Send(refreshTickMsg(time.Now()))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(fileErrorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program == nil {
		return nil
	}

	program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type refreshTickMsg time.Time
type fileErrorMsg ErrorEvent
type completeMsg CompletionStats

// refreshModel is the bubbletea model for a folder refresh.
type refreshModel struct {
	tracker  *ProgressTracker
	width    int
	complete bool
	stats    CompletionStats
	failures []ErrorEvent
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
	folder   string
}

func newRefreshModel(tracker *ProgressTracker, folder string) *refreshModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &refreshModel{
		tracker: tracker,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorLime),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
		width:  80,
		folder: folder,
	}
}

// Init implements tea.Model.
func (m *refreshModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *refreshModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, msg.Width-20)
	case fileErrorMsg:
		m.failures = append(m.failures, ErrorEvent(msg))
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *refreshModel) View() string {
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	title := "amanrag refresh"
	if m.folder != "" {
		title += " • " + m.folder
	}

	lines := []string{m.styles.Header.Render(title), m.renderStages(stats.Stage), ""}
	if stats.Total > 0 {
		lines = append(lines,
			m.bar.ViewAs(stats.Progress)+"  "+m.styles.Active.Render(fmt.Sprintf("%d/%d", stats.Current, stats.Total)))
	} else {
		lines = append(lines, m.spinner.View()+" "+stats.Stage.String()+"...")
	}
	if stats.CurrentFile != "" {
		lines = append(lines, m.styles.Dim.Render(stats.CurrentFile))
	}
	for _, f := range m.failures {
		lines = append(lines, m.renderFailure(f))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *refreshModel) renderStages(current Stage) string {
	stages := []Stage{StageScanning, StageChecking, StageLoading, StageBuilding}
	parts := make([]string, len(stages))
	for i, s := range stages {
		switch {
		case s < current:
			parts[i] = m.styles.Success.Render("● " + s.String())
		case s == current:
			parts[i] = m.styles.Active.Render(m.spinner.View() + " " + s.String())
		default:
			parts[i] = m.styles.Dim.Render("○ " + s.String())
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *refreshModel) renderFailure(e ErrorEvent) string {
	if e.IsWarn {
		return m.styles.Warning.Render(fmt.Sprintf("⚠ %s: %v", e.File, e.Err))
	}
	return m.styles.Error.Render(fmt.Sprintf("✗ %s: %v", e.File, e.Err))
}

func (m *refreshModel) renderComplete() string {
	s := m.stats
	lines := []string{
		m.styles.Success.Render("✓ Refresh complete"),
		"",
		fmt.Sprintf("%s %s", m.styles.Label.Render("Files:    "), m.styles.Active.Render(fmt.Sprint(s.Files))),
		fmt.Sprintf("%s %d built, %d unchanged", m.styles.Label.Render("Indexes:  "), s.Built, s.Unchanged),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Chunks:   "), m.styles.Active.Render(fmt.Sprint(s.Chunks))),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration: "), formatDuration(s.Duration)),
	}
	if s.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d files failed", s.Failed)))
		for _, f := range m.failures {
			lines = append(lines, m.renderFailure(f))
		}
	}

	panel := m.styles.Panel.BorderForeground(lipgloss.Color(ColorLime)).Padding(1, 2).Width(max(40, m.width-4))
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration for humans.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ Renderer = (*TUIRenderer)(nil)
