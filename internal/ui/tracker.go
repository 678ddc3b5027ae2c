package ui

import (
	"sync"
	"time"
)

// etaSmoothingFactor weights new ETA samples against the previous value.
// Batch embedding latency varies a lot, so raw ETAs jump around.
const etaSmoothingFactor = 0.3

// ProgressTracker holds progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastETA time.Duration
}

// ProgressStats is a snapshot of current progress.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a tracker starting at the scanning stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageScanning,
		startTime:  now,
		stageStart: now,
	}
}

// SetStage transitions to a new stage and resets per-stage state.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Elapsed returns time since tracker creation.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return time.Since(p.startTime)
}

// Stats returns a snapshot of the current progress.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = float64(p.current) / float64(p.total)
		if progress > 1.0 {
			progress = 1.0
		}
	}

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    progress,
		ETA:         p.calculateETA(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
	}
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ErrorEvent, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// calculateETA estimates remaining stage time with exponential smoothing.
// Caller holds p.mu; updates lastETA.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	progress := float64(p.current) / float64(p.total)
	if progress <= 0 || progress >= 1.0 {
		return 0
	}

	totalEstimate := time.Duration(float64(elapsed) / progress)
	raw := totalEstimate - elapsed
	if raw < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	smoothed := time.Duration(
		etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(p.lastETA),
	)
	p.lastETA = smoothed
	return smoothed
}
