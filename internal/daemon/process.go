package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrNoExecutable is returned when the supervisor cannot find the binary
// to spawn.
var ErrNoExecutable = errors.New("no worker executable")

// SpawnError reports a failed worker launch.
type SpawnError struct {
	Path string
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s %s: %v", e.Path, strings.Join(e.Args, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessSupervisor launches and controls OS processes by pid.
type ProcessSupervisor interface {
	// Spawn starts a detached process and returns its pid.
	Spawn(args []string) (int, error)
	Alive(pid int) bool
	Signal(pid int, sig os.Signal) error
	// Wait reports whether pid exited within timeout.
	Wait(pid int, timeout time.Duration) bool
	Kill(pid int) error
}

// OSSupervisor spawns copies of an executable in their own session with
// output appended to a log file.
type OSSupervisor struct {
	// Executable defaults to the running binary.
	Executable string
	// LogFile receives the child's stdout and stderr. Empty discards them.
	LogFile string
	// Env is appended to the current environment.
	Env []string

	mu     sync.Mutex
	exited map[int]struct{}
}

var _ ProcessSupervisor = (*OSSupervisor)(nil)

// NewOSSupervisor returns a supervisor for the running binary.
func NewOSSupervisor(logFile string) *OSSupervisor {
	return &OSSupervisor{LogFile: logFile}
}

// Spawn starts the executable with args and reaps it in the background
// so a finished child is never reported alive.
func (s *OSSupervisor) Spawn(args []string) (int, error) {
	path := s.Executable
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, &SpawnError{Args: args, Err: fmt.Errorf("%w: %w", ErrNoExecutable, err)}
		}
		path = exe
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = detachedAttr()
	cmd.Env = append(os.Environ(), s.Env...)

	if s.LogFile != "" {
		f, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, &SpawnError{Path: path, Args: args, Err: err}
		}
		defer f.Close() //nolint:errcheck
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, &SpawnError{Path: path, Args: args, Err: err}
	}

	pid := cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.exited == nil {
			s.exited = make(map[int]struct{})
		}
		s.exited[pid] = struct{}{}
		s.mu.Unlock()
	}()
	return pid, nil
}

// Alive reports whether pid refers to a running process.
func (s *OSSupervisor) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	s.mu.Lock()
	_, gone := s.exited[pid]
	s.mu.Unlock()
	if gone {
		return false
	}
	return processAlive(pid)
}

// Signal delivers sig to pid.
func (s *OSSupervisor) Signal(pid int, sig os.Signal) error {
	if err := signalProcess(pid, sig); err != nil {
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	return nil
}

// Wait polls until pid is gone or timeout elapses.
func (s *OSSupervisor) Wait(pid int, timeout time.Duration) bool {
	return pollUntil(timeout, 50*time.Millisecond, func() bool { return !s.Alive(pid) })
}

// Kill terminates pid immediately.
func (s *OSSupervisor) Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// pollUntil calls cond every interval until it reports true or timeout
// elapses. cond is always evaluated at least once.
func pollUntil(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(min(interval, time.Until(deadline)))
	}
}

// terminate asks pid to exit, polls for up to polls*interval and then
// kills it. It reports whether the process exited without being killed.
func terminate(sup ProcessSupervisor, pid, polls int, interval time.Duration) (graceful bool, err error) {
	if !sup.Alive(pid) {
		return true, nil
	}
	if err := sup.Signal(pid, TerminateSignal); err != nil && sup.Alive(pid) {
		return false, err
	}
	for range polls {
		if sup.Wait(pid, interval) {
			return true, nil
		}
	}
	if err := sup.Kill(pid); err != nil {
		return false, err
	}
	sup.Wait(pid, interval)
	return false, nil
}
