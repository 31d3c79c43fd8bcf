package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/flock"
)

var (
	// ErrAlreadyRunning is returned by Start when a live worker exists.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrNotRunning is returned by Stop when no live worker exists.
	ErrNotRunning = errors.New("daemon not running")

	// ErrStartTimeout is returned when a spawned worker never became
	// visible as alive.
	ErrStartTimeout = errors.New("daemon did not start in time")

	// ErrLockHeld is returned when another process holds the daemon lock
	// while starting or stopping a worker.
	ErrLockHeld = errors.New("daemon lock held by another process")
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	PIDFile    string
	LockFile   string
	StatusFile string

	// WorkerArgs are passed to the spawned executable.
	WorkerArgs []string

	// StartupWait bounds how long a caller waits for a worker to become
	// alive, whether it spawned the worker or lost the startup race.
	// Defaults to 2s.
	StartupWait time.Duration

	// StopTimeout bounds the graceful part of Stop. It is split into ten
	// polls before the worker is killed. Defaults to 5s.
	StopTimeout time.Duration

	Supervisor ProcessSupervisor
	Logger     *log.Logger
}

// Manager controls the worker process from any caller.
type Manager struct {
	cfg    ManagerConfig
	sup    ProcessSupervisor
	logger *log.Logger
}

const (
	startupPoll = 100 * time.Millisecond
	stopPolls   = 10
)

// NewManager returns a Manager. A nil Supervisor uses an OSSupervisor
// without a log file.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = NewOSSupervisor("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{cfg: cfg, sup: sup, logger: logger}
}

// PID returns the recorded pid when that process is alive.
func (m *Manager) PID() (int, bool) {
	pid, err := ReadPID(m.cfg.PIDFile)
	if err != nil || pid == 0 {
		return 0, false
	}
	return pid, m.sup.Alive(pid)
}

// IsRunning checks the pid record against OS liveness.
func (m *Manager) IsRunning() bool {
	_, ok := m.PID()
	return ok
}

// EnsureRunning makes sure a worker is alive, spawning one if needed.
// Concurrent callers in any number of processes spawn at most one
// worker: the loser of the startup lock waits for the winner's worker
// instead of spawning. It never returns an error; failures are logged.
func (m *Manager) EnsureRunning(ctx context.Context) bool {
	if m.IsRunning() {
		return true
	}

	lock := flock.New(m.cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		m.logger.Error("failed to take daemon lock", "err", err)
		return false
	}
	if !ok {
		m.logger.Debug("daemon startup in progress elsewhere, waiting")
		return m.waitAlive(ctx)
	}
	defer m.unlock(lock)

	if err := m.spawnLocked(ctx); err != nil {
		m.logger.Error("failed to start daemon", "err", err)
		return false
	}
	return true
}

// Start spawns a worker if none is alive.
func (m *Manager) Start(ctx context.Context) error {
	if pid, ok := m.PID(); ok {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	lock := flock.New(m.cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		if m.waitAlive(ctx) {
			return nil
		}
		return ErrStartTimeout
	}
	defer m.unlock(lock)

	return m.spawnLocked(ctx)
}

// Stop terminates the worker: a termination signal, ten polls spread
// over StopTimeout, then a kill. The pid record is removed regardless of
// the outcome.
func (m *Manager) Stop(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupWait)
	defer cancel()

	lock := flock.New(m.cfg.LockFile)
	if err := lock.Lock(lockCtx); err != nil {
		return fmt.Errorf("take daemon lock: %w", err)
	}
	defer m.unlock(lock)

	return m.stopLocked()
}

// Restart stops any running worker and starts a new one.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return m.Start(ctx)
}

// Status reads the worker's status file and corrects it with a liveness
// check, so a crashed worker never reads as running.
func (m *Manager) Status() Status {
	st := ReadStatus(m.cfg.StatusFile)
	pid, alive := m.PID()
	st.Running = alive
	if alive {
		st.PID = pid
	} else {
		st.UptimeSeconds = 0
	}
	return st
}

func (m *Manager) spawnLocked(ctx context.Context) error {
	m.removeStale()

	// Another process may have finished spawning between our fast-path
	// check and taking the lock.
	if m.IsRunning() {
		return nil
	}

	pid, err := m.sup.Spawn(m.cfg.WorkerArgs)
	if err != nil {
		return err
	}
	if err := WritePID(m.cfg.PIDFile, pid); err != nil {
		return err
	}
	m.logger.Info("daemon spawned", "pid", pid)

	if !m.waitAlive(ctx) {
		_ = RemovePID(m.cfg.PIDFile, pid)
		return fmt.Errorf("%w (pid %d)", ErrStartTimeout, pid)
	}
	return nil
}

func (m *Manager) stopLocked() error {
	pid, err := ReadPID(m.cfg.PIDFile)
	defer func() {
		if rerr := RemovePID(m.cfg.PIDFile, 0); rerr != nil {
			m.logger.Warn("failed to remove pid file", "err", rerr)
		}
	}()
	if err != nil {
		return err
	}
	if pid == 0 || !m.sup.Alive(pid) {
		return ErrNotRunning
	}

	graceful, err := terminate(m.sup, pid, stopPolls, m.cfg.StopTimeout/stopPolls)
	if err != nil {
		return fmt.Errorf("stop daemon (pid %d): %w", pid, err)
	}
	if !graceful {
		m.logger.Warn("daemon did not exit in time, killed", "pid", pid)
	} else {
		m.logger.Info("daemon stopped", "pid", pid)
	}
	return nil
}

func (m *Manager) removeStale() {
	pid, err := ReadPID(m.cfg.PIDFile)
	if err == nil && pid != 0 && m.sup.Alive(pid) {
		return
	}
	if err != nil || pid != 0 {
		m.logger.Debug("removing stale pid file", "pid", pid, "err", err)
		if err := RemovePID(m.cfg.PIDFile, 0); err != nil {
			m.logger.Warn("failed to remove stale pid file", "err", err)
		}
	}
}

func (m *Manager) waitAlive(ctx context.Context) bool {
	deadline := time.Now().Add(m.cfg.StartupWait)
	t := time.NewTicker(startupPoll)
	defer t.Stop()
	for {
		if m.IsRunning() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return m.IsRunning()
		case <-t.C:
		}
	}
}

func (m *Manager) unlock(lock *flock.FileLock) {
	if err := lock.Unlock(); err != nil {
		m.logger.Warn("failed to release daemon lock", "err", err)
	}
}
