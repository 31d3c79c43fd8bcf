// Package flock provides exclusive advisory file locks shared between
// processes on the same host.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotLocked is returned by Unlock when the lock is not held.
var ErrNotLocked = errors.New("flock: lock not held")

// DefaultPollInterval is how often Lock retries a contended lock.
const DefaultPollInterval = 50 * time.Millisecond

// ExclusiveLock is a cross-process mutual exclusion primitive.
type ExclusiveLock interface {
	TryLock() (bool, error)
	Lock(ctx context.Context) error
	Unlock() error
}

// FileLock is an ExclusiveLock backed by an OS file lock on Path. Each
// FileLock owns its own file handle, so two FileLocks on the same path
// exclude each other even inside a single process.
type FileLock struct {
	path string
	poll time.Duration

	mu   sync.Mutex
	file *os.File
}

var _ ExclusiveLock = (*FileLock)(nil)

// New returns an unlocked FileLock for path.
func New(path string) *FileLock {
	return &FileLock{path: path, poll: DefaultPollInterval}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// TryLock attempts to take the lock without blocking. It reports false,
// with a nil error, when another holder has it.
func (l *FileLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("flock: create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("flock: open %s: %w", l.path, err)
	}

	ok, err := tryLockFile(f)
	if err != nil || !ok {
		_ = f.Close()
		if err != nil {
			return false, fmt.Errorf("flock: lock %s: %w", l.path, err)
		}
		return false, nil
	}
	l.file = f
	return true, nil
}

// Lock polls until the lock is acquired or ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flock: waiting for %s: %w", l.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock and closes the underlying handle.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrNotLocked
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// LockTimeout is Lock bounded by timeout.
func (l *FileLock) LockTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Lock(ctx)
}
