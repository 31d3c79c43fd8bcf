package queue

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func openTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	s, err := OpenStore(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "queue.db"),
		Logger: quietLogger(),
		Now:    now,
	})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(openTestStore(t, nil), quietLogger())
	b.SetPollInterval(10 * time.Millisecond)
	return b
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type spoken struct {
	text  string
	voice string
	at    time.Time
}

// recordingSpeaker records every call and fails the first failN calls,
// or all calls when failN is negative.
type recordingSpeaker struct {
	mu    sync.Mutex
	calls []spoken
	failN int
}

var errSinkDown = errors.New("sink unavailable")

func (r *recordingSpeaker) Speak(_ context.Context, text, voice string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, spoken{text: text, voice: voice, at: time.Now()})
	if r.failN < 0 || len(r.calls) <= r.failN {
		return errSinkDown
	}
	return nil
}

func (r *recordingSpeaker) Calls() []spoken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spoken(nil), r.calls...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
