// Package ui renders reindex progress: a bubbletea TUI on interactive
// terminals, plain text lines on CI and pipes.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a reindex pipeline stage.
type Stage int

const (
	// StageScanning is the document collection stage.
	StageScanning Stage = iota
	// StageEmbedding is the embedding and index building stage.
	StageEmbedding
	// StagePublishing is the atomic swap and version bump stage.
	StagePublishing
	// StageComplete indicates the rebuild is finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageEmbedding:
		return "Embedding"
	case StagePublishing:
		return "Publishing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageEmbedding:
		return "EMBED"
	case StagePublishing:
		return "SWAP"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent represents a problem with one document during the rebuild.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// EmbedderInfo identifies the embedding backend behind the rebuilt index.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished rebuild.
type CompletionStats struct {
	Documents int
	Version   string
	Duration  time.Duration
	Errors    int
	Warnings  int
	Embedder  EmbedderInfo
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error or warning to the display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with a summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	DataDir    string // data dir shown in the TUI header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithDataDir sets the data dir path shown in the TUI header.
func WithDataDir(dir string) ConfigOption {
	return func(c *Config) { c.DataDir = dir }
}

// NewConfig creates a Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates the appropriate renderer for the environment: the
// TUI on interactive terminals, plain text for CI, pipes, and --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks whether the output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks the NO_COLOR convention.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks whether we are running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
