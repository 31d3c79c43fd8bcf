package daemon

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeSupervisor tracks fake pids in memory. Spawned processes are alive
// until signalled or killed.
type fakeSupervisor struct {
	mu           sync.Mutex
	nextPID      int
	alive        map[int]bool
	spawns       [][]string
	signals      []int
	kills        []int
	ignoreSignal bool
	spawnErr     error
	spawnDelay   time.Duration
}

var _ ProcessSupervisor = (*fakeSupervisor)(nil)

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{nextPID: 4000, alive: make(map[int]bool)}
}

func (f *fakeSupervisor) Spawn(args []string) (int, error) {
	if f.spawnDelay > 0 {
		time.Sleep(f.spawnDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.spawns = append(f.spawns, args)
	return f.nextPID, nil
}

func (f *fakeSupervisor) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeSupervisor) Signal(pid int, _ os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, pid)
	if !f.ignoreSignal {
		delete(f.alive, pid)
	}
	return nil
}

func (f *fakeSupervisor) Wait(pid int, timeout time.Duration) bool {
	return pollUntil(timeout, 5*time.Millisecond, func() bool { return !f.Alive(pid) })
}

func (f *fakeSupervisor) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, pid)
	delete(f.alive, pid)
	return nil
}

func (f *fakeSupervisor) setAlive(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = true
}

func (f *fakeSupervisor) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

var errSpawn = errors.New("exec format error")

func testManagerConfig(t *testing.T, sup ProcessSupervisor) ManagerConfig {
	t.Helper()
	dir := t.TempDir()
	return ManagerConfig{
		PIDFile:     filepath.Join(dir, "daemon.pid"),
		LockFile:    filepath.Join(dir, "daemon.lock"),
		StatusFile:  filepath.Join(dir, "daemon.status"),
		WorkerArgs:  []string{"daemon", "worker"},
		StartupWait: time.Second,
		StopTimeout: 100 * time.Millisecond,
		Supervisor:  sup,
		Logger:      quietLogger(),
	}
}
