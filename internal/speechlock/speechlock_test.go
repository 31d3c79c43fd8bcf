package speechlock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLock(t *testing.T, timeout time.Duration) *Lock {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "speech.lock"), filepath.Join(dir, "last_speech.time"), timeout)
}

func TestAcquireSerializes(t *testing.T) {
	l := newTestLock(t, 5*time.Second)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(ctx, 0, func(context.Context) error {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(30 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("two holders spoke at the same time")
	}
}

func TestAcquireTimeout(t *testing.T) {
	dir := t.TempDir()
	holder := New(filepath.Join(dir, "speech.lock"), filepath.Join(dir, "t"), time.Second)
	waiter := New(filepath.Join(dir, "speech.lock"), filepath.Join(dir, "t"), 150*time.Millisecond)

	release, err := holder.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	start := time.Now()
	_, err = waiter.Acquire(context.Background(), 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, want about 150ms", elapsed)
	}
}

func TestAcquireEnforcesSpacing(t *testing.T) {
	l := newTestLock(t, time.Second)
	ctx := context.Background()
	spacing := 200 * time.Millisecond

	release, err := l.Acquire(ctx, spacing)
	if err != nil {
		t.Fatal(err)
	}
	release()

	if _, ok := l.LastSpoken(); !ok {
		t.Fatal("LastSpoken() not recorded by release")
	}

	start := time.Now()
	release, err = l.Acquire(ctx, spacing)
	if err != nil {
		t.Fatal(err)
	}
	release()
	if elapsed := time.Since(start); elapsed < spacing-20*time.Millisecond {
		t.Errorf("second Acquire() returned after %v, want at least %v", elapsed, spacing)
	}
}

func TestAcquireCancelled(t *testing.T) {
	l := newTestLock(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Acquire(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
