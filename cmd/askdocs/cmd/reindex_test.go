package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdocs/askdocs/internal/ui"
)

// captureRenderer records renderer calls for assertions.
type captureRenderer struct {
	events []ui.ProgressEvent
	errs   []ui.ErrorEvent
	stats  *ui.CompletionStats
}

func (c *captureRenderer) Start(context.Context) error { return nil }

func (c *captureRenderer) UpdateProgress(event ui.ProgressEvent) {
	c.events = append(c.events, event)
}

func (c *captureRenderer) AddError(event ui.ErrorEvent) { c.errs = append(c.errs, event) }

func (c *captureRenderer) Complete(stats ui.CompletionStats) { c.stats = &stats }

func (c *captureRenderer) Stop() error { return nil }

func TestRenderProgressStageMapping(t *testing.T) {
	r := &captureRenderer{}
	fn := renderProgress(r)

	fn("scan", 0, 0, "")
	fn("embed", 64, 128, "2024-10-24_보수건.pdf")
	fn("publish", 0, 0, "")
	fn("unknown", 1, 2, "ignored")

	require.Len(t, r.events, 3)
	assert.Equal(t, ui.StageScanning, r.events[0].Stage)
	assert.Equal(t, "collecting documents", r.events[0].Message)

	assert.Equal(t, ui.StageEmbedding, r.events[1].Stage)
	assert.Equal(t, 64, r.events[1].Current)
	assert.Equal(t, 128, r.events[1].Total)
	assert.Equal(t, "2024-10-24_보수건.pdf", r.events[1].CurrentFile)

	assert.Equal(t, ui.StagePublishing, r.events[2].Stage)
}
