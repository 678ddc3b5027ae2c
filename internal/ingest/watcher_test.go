package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	path := filepath.Join(dir, "2024-10-24_보수건.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("본문"), 0o644))
	}
	// A non-txt file never surfaces.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.json"), []byte("{}"), 0o644))

	select {
	case batch := <-w.Events():
		assert.Equal(t, []string{path}, batch)
	case <-time.After(3 * time.Second):
		t.Fatal("no batch within deadline")
	}

	// No further batches pending.
	select {
	case batch, ok := <-w.Events():
		if ok {
			t.Fatalf("unexpected extra batch: %v", batch)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 50*time.Millisecond, nil)
	require.NoError(t, err)

	w.Start(context.Background())
	w.Stop()
	w.Stop()

	_, ok := <-w.Events()
	assert.False(t, ok, "events channel closed after stop")
}

func TestWatcherMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "없는폴더"), 0, nil)
	require.Error(t, err)
}
