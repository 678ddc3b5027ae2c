package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears the persistent flag globals between tests.
func resetFlags(t *testing.T) {
	t.Helper()
	clear := func() { cfgFile, documentsRoot, dataDir, logLevel = "", "", "", "" }
	clear()
	t.Cleanup(clear)
}

func TestRootCommandStructure(t *testing.T) {
	resetFlags(t)
	root := NewRootCmd()

	want := []string{"query", "ingest", "reindex", "stats", "serve", "config"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestRootVersionTemplate(t *testing.T) {
	resetFlags(t)
	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "askdocs version")
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	resetFlags(t)
	documentsRoot = t.TempDir()
	dataDir = t.TempDir()
	logLevel = "debug"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, documentsRoot, cfg.Paths.DocumentsRoot)
	assert.Equal(t, dataDir, cfg.Paths.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(documentsRoot, "extracted"), cfg.Paths.ExtractedDir)
}

func TestLoadConfigPicksUpDataDirFile(t *testing.T) {
	resetFlags(t)
	dataDir = t.TempDir()
	docs := t.TempDir()

	body := "paths:\n  documents_root: " + docs + "\nsearch:\n  final_top_k: 7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, configFileName), []byte(body), 0o644))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, docs, cfg.Paths.DocumentsRoot)
	assert.Equal(t, 7, cfg.Search.FinalTopK)
}

func TestLoadConfigRootOverrideMovesExtractedDir(t *testing.T) {
	resetFlags(t)
	dataDir = t.TempDir()
	oldRoot := t.TempDir()
	newRoot := t.TempDir()

	body := "paths:\n  documents_root: " + oldRoot + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, configFileName), []byte(body), 0o644))
	documentsRoot = newRoot

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, newRoot, cfg.Paths.DocumentsRoot)
	assert.Equal(t, filepath.Join(newRoot, "extracted"), cfg.Paths.ExtractedDir)
}
