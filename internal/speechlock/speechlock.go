// Package speechlock serializes audible output across processes and keeps
// a minimum gap between consecutive utterances.
package speechlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/voiceq/internal/flock"
	"github.com/dgnsrekt/voiceq/internal/statefile"
)

// DefaultTimeout bounds the wait for the output device.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when the lock could not be acquired in time.
var ErrTimeout = errors.New("speechlock: timed out waiting for the output device")

// Lock is the output mutex. Every process that speaks directly shares the
// same lock file and last-spoken timestamp file.
type Lock struct {
	lockPath string
	timePath string
	timeout  time.Duration
	now      func() time.Time
}

// New returns a Lock. A non-positive timeout uses DefaultTimeout.
func New(lockPath, timePath string, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lock{lockPath: lockPath, timePath: timePath, timeout: timeout, now: time.Now}
}

// Acquire waits for the output device, then sleeps out whatever remains
// of minSpacing since the last utterance. The returned release records
// the current time as the last utterance and unlocks; it must be called
// exactly once.
func (l *Lock) Acquire(ctx context.Context, minSpacing time.Duration) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fl := flock.New(l.lockPath)

	lctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := fl.Lock(lctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, l.timeout)
		}
		return nil, err
	}

	if last, ok := l.lastSpoken(); ok && minSpacing > 0 {
		if wait := minSpacing - l.now().Sub(last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				_ = fl.Unlock()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	return func() {
		_ = l.writeLastSpoken(l.now())
		_ = fl.Unlock()
	}, nil
}

// Do runs fn while holding the lock.
func (l *Lock) Do(ctx context.Context, minSpacing time.Duration, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx, minSpacing)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// LastSpoken returns the time of the last recorded utterance.
func (l *Lock) LastSpoken() (time.Time, bool) {
	return l.lastSpoken()
}

func (l *Lock) lastSpoken() (time.Time, bool) {
	data, err := os.ReadFile(l.timePath)
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

func (l *Lock) writeLastSpoken(t time.Time) error {
	secs := float64(t.UnixNano()) / 1e9
	return statefile.WriteAtomic(l.timePath, []byte(strconv.FormatFloat(secs, 'f', 6, 64)), 0o644)
}
