// Package index manages the search index lifecycle: the reindex lock,
// index versioning, full and incremental rebuilds, and cross-store
// consistency checks.
package index

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// LockFileName is the on-disk reindex lock. Any process that needs to
// know "is a reindex in progress" stats this file.
const LockFileName = "reindexing.lock"

const (
	// DefaultLockTimeout bounds how long Acquire polls before giving up.
	DefaultLockTimeout = 1500 * time.Millisecond
	// DefaultLockPoll is the retry interval while waiting for the lock.
	DefaultLockPoll = 200 * time.Millisecond
)

// ReindexLock is a mutually exclusive on-disk lock. The file is created
// with O_CREAT|O_EXCL so creation itself is the atomic acquisition; the
// holder's PID is written inside for diagnostics.
type ReindexLock struct {
	path string
}

// NewReindexLock builds a lock over the given file path.
func NewReindexLock(path string) *ReindexLock {
	return &ReindexLock{path: path}
}

// Path returns the lock file location.
func (l *ReindexLock) Path() string { return l.path }

// TryAcquire attempts a single non-blocking acquisition.
func (l *ReindexLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return false, err
	}
	return true, nil
}

// Acquire polls until the lock is held or the timeout expires. The
// returned release function is safe to call on every exit path; calling
// it more than once is harmless.
func (l *ReindexLock) Acquire(timeout, poll time.Duration) (release func(), err error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if poll <= 0 {
		poll = DefaultLockPoll
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.TryAcquire()
		if err != nil {
			return nil, err
		}
		if ok {
			released := false
			return func() {
				if released {
					return
				}
				released = true
				if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
					slog.Warn("reindex_lock_release_failed",
						slog.String("path", l.path),
						slog.String("error", err.Error()))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			holder, _ := l.HolderPID()
			return nil, aerr.New(aerr.ErrCodeReindexLocked,
				fmt.Sprintf("reindex already in progress (lock held by pid %d)", holder), nil)
		}
		time.Sleep(poll)
	}
}

// IsLocked reports whether a reindex is currently in progress.
func (l *ReindexLock) IsLocked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// HolderPID returns the PID recorded in the lock file, 0 when unreadable.
func (l *ReindexLock) HolderPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}
