package index

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

func newTestLock(t *testing.T) *ReindexLock {
	t.Helper()
	return NewReindexLock(filepath.Join(t.TempDir(), LockFileName))
}

func TestLockTryAcquireExclusive(t *testing.T) {
	l := newTestLock(t)

	ok, err := l.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.IsLocked())

	ok, err = l.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok, "second acquisition must fail while held")

	pid, err := l.HolderPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLockAcquireTimeout(t *testing.T) {
	l := newTestLock(t)

	ok, err := l.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.Acquire(50*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, aerr.ErrCodeReindexLocked, aerr.GetCode(err))
	assert.False(t, aerr.IsFatal(err))
}

func TestLockReleaseIdempotent(t *testing.T) {
	l := newTestLock(t)

	release, err := l.Acquire(0, 0)
	require.NoError(t, err)
	assert.True(t, l.IsLocked())

	release()
	assert.False(t, l.IsLocked())
	release() // harmless

	// Lock is reusable after release.
	release2, err := l.Acquire(0, 0)
	require.NoError(t, err)
	release2()
}

func TestLockMutualExclusionUnderContention(t *testing.T) {
	l := newTestLock(t)

	var holders int32
	var maxHolders int32
	var acquired int32

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(2*time.Second, time.Millisecond)
			if err != nil {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				cur := atomic.LoadInt32(&maxHolders)
				if n <= cur || atomic.CompareAndSwapInt32(&maxHolders, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			atomic.AddInt32(&acquired, 1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxHolders),
		"at most one holder at any moment")
	assert.Equal(t, int32(workers), atomic.LoadInt32(&acquired),
		"every worker eventually acquires")
	assert.False(t, l.IsLocked())
}
