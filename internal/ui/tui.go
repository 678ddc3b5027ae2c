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

// TUIRenderer renders a live rebuild view using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *reindexModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails when the output is not a
// terminal; NewRenderer falls back to plain in that case.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newReindexModel(tracker, cfg.DataDir)
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
	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

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
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	if r.program != nil {
		r.program.Send(errorMsg(event))
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
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// Bounded wait so Ctrl+C never hangs on an unresponsive TUI.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// bubbletea message types
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// reindexModel is the bubbletea model for rebuild progress.
type reindexModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	dataDir     string
}

func newReindexModel(tracker *ProgressTracker, dataDir string) *reindexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan))

	p := progress.New(
		progress.WithSolidFill(ColorCyan),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &reindexModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		dataDir:     dataDir,
	}
}

// Init implements tea.Model.
func (m *reindexModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *reindexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg, errorMsg:
		// State lives in the tracker; the tick redraws.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *reindexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderStages(),
		m.renderDivider(contentWidth),
		m.renderProgress(),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		sections = append(sections, m.renderDivider(contentWidth))
		sections = append(sections, m.styles.Dim.Render(truncatePath(file, contentWidth-2)))
	}

	content := strings.Join(sections, "\n")

	title := "askdocs reindex"
	if m.dataDir != "" {
		title = fmt.Sprintf("askdocs reindex • %s", m.dataDir)
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth)

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
	return body + "\n" + m.renderStatusBar()
}

// renderStages renders the pipeline stage row.
func (m *reindexModel) renderStages() string {
	current := m.tracker.Stats().Stage

	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageEmbedding, "Embed"},
		{StagePublishing, "Publish"},
	}

	var parts []string
	for _, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case s.stage < current:
			icon = "●"
			style = m.styles.Success
		case s.stage == current:
			icon = m.spinner.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}

	arrow := m.styles.Dim.Render(" → ")
	return strings.Join(parts, arrow)
}

// renderProgress renders the progress bar with count and ETA.
func (m *reindexModel) renderProgress() string {
	stats := m.tracker.Stats()

	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage.String())
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))

	countLine := fmt.Sprintf("%d / %d documents", stats.Current, stats.Total)
	if e := stats.ETA; e > 0 {
		countLine += fmt.Sprintf("  •  ETA %s", formatDuration(e))
	}

	return fmt.Sprintf("%s  %s\n%s", bar, pct, m.styles.Label.Render(countLine))
}

func (m *reindexModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

// renderStatusBar renders the warning/error counts and quit hint.
func (m *reindexModel) renderStatusBar() string {
	stats := m.tracker.Stats()
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + m.styles.Dim.Render("  │  q to quit")
}

// renderComplete renders the completion summary panel.
func (m *reindexModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	lines := []string{
		m.styles.Success.Render("✓ Reindex Complete"),
		"",
		fmt.Sprintf("%s %s", m.styles.Label.Render("Documents:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Documents))),
		fmt.Sprintf("%s  %s", m.styles.Label.Render("Duration:"),
			m.styles.Active.Render(formatDuration(m.stats.Duration))),
	}
	if m.stats.Version != "" {
		lines = append(lines, fmt.Sprintf("%s   %s", m.styles.Label.Render("Version:"),
			m.styles.Active.Render(m.stats.Version)))
	}
	if m.stats.Embedder.Model != "" {
		lines = append(lines, fmt.Sprintf("%s  %s", m.styles.Label.Render("Embedder:"),
			m.styles.Label.Render(fmt.Sprintf("%s (%d dims)", m.stats.Embedder.Model, m.stats.Embedder.Dimensions))))
	}
	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorCyan)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncatePath trims a path to maxLen, keeping the filename.
func truncatePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}
	parts := strings.Split(path, "/")
	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		if maxLen < 4 {
			return "..."
		}
		return "..." + filename[len(filename)-maxLen+3:]
	}
	return ".../" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
