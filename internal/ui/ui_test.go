package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageStringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageScanning, "Scanning", "SCAN"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StagePublishing, "Publishing", "SWAP"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.stage.String())
		assert.Equal(t, tt.icon, tt.stage.Icon())
	}
}

func TestNewRendererPlainForNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewRenderer(NewConfig(buf))

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok, "buffer output must select the plain renderer")
}

func TestNewRendererForcePlain(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewRenderer(NewConfig(buf, WithForcePlain(true)))

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewTUIRendererRejectsNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	_, err := NewTUIRenderer(NewConfig(buf))
	require.Error(t, err)
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestNewConfigOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf, WithNoColor(true), WithDataDir("/tmp/askdocs"))

	assert.True(t, cfg.NoColor)
	assert.Equal(t, "/tmp/askdocs", cfg.DataDir)
	assert.False(t, cfg.ForcePlain)
}
