package sink

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Call is one recorded Speak invocation.
type Call struct {
	Text  string
	Voice string
	At    time.Time
}

// Mock is a Sink that records calls without producing sound. It can be
// told to fail and to take time, and doubles as a dry-run sink that
// logs what would have been spoken.
type Mock struct {
	mu       sync.Mutex
	calls    []Call
	failNext int
	err      error
	delay    time.Duration
	logger   *log.Logger
}

var _ Sink = (*Mock)(nil)

// NewMock returns a mock that succeeds immediately.
func NewMock() *Mock {
	return &Mock{}
}

// NewLogSink returns a mock that logs every message at info level.
func NewLogSink(logger *log.Logger) *Mock {
	if logger == nil {
		logger = log.Default()
	}
	return &Mock{logger: logger}
}

// FailNext makes the next n calls return err. A negative n fails every
// call.
func (m *Mock) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.err = err
}

// SetDelay makes every call block for d, or until its context is done.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Speak implements Sink.
func (m *Mock) Speak(ctx context.Context, text, voice string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Text: text, Voice: voice, At: time.Now()})
	delay := m.delay
	var err error
	if m.failNext != 0 {
		err = m.err
		if m.failNext > 0 {
			m.failNext--
		}
	}
	logger := m.logger
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if logger != nil && err == nil {
		logger.Info("speak", "voice", voice, "text", text)
	}
	return err
}

// Name implements Sink.
func (m *Mock) Name() string { return "mock" }

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns the number of recorded calls.
func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and failure settings.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.failNext = 0
	m.err = nil
	m.delay = 0
}
