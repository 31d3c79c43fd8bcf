package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner executes synthesizer commands one at a time, each bounded by a
// timeout.
type Runner interface {
	Run(ctx context.Context, input string, name string, args ...string) error
}

// SubprocessManager is the Runner used in production. Stdin is attached
// before the process starts.
type SubprocessManager struct {
	mu sync.Mutex

	defaultTimeout time.Duration
}

var _ Runner = (*SubprocessManager)(nil)

// NewSubprocessManager creates a new subprocess manager.
func NewSubprocessManager(timeout time.Duration) *SubprocessManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SubprocessManager{defaultTimeout: timeout}
}

// Run executes name with args, feeding input on stdin when it is not
// empty.
func (sm *SubprocessManager) Run(ctx context.Context, input string, name string, args ...string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	err := cmd.Wait()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s cancelled: %w", name, ctx.Err())
	}

	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w\nstderr: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// CheckBinary checks if a binary exists in the system PATH.
func CheckBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("binary '%s' not found in PATH: %w", name, err)
	}
	return nil
}
