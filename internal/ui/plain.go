package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes plain text progress lines, one per update. Used
// for CI, pipes, and --plain.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
// Format: [STAGE] current/total - message or file.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents indexed in %s",
		stats.Documents, stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Version != "" {
		_, _ = fmt.Fprintf(r.out, "Index version: %s\n", stats.Version)
	}
	if stats.Embedder.Backend != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
