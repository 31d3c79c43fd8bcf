package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/flock"
	"github.com/fsnotify/fsnotify"
)

// debouncer collapses a burst of triggers into one call of fn, made once
// no trigger has arrived for the delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

var skipDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"_examples":    true,
	"node_modules": true,
	"testdata":     true,
}

// watchable reports whether a change to path should trigger a reload.
func watchable(path string) bool {
	return filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go")
}

// ReloaderConfig configures a Reloader.
type ReloaderConfig struct {
	// Dirs are watched recursively.
	Dirs []string

	// Debounce is the quiet period after the last change before the
	// worker is respawned. Defaults to 1.5s.
	Debounce time.Duration

	// WorkerArgs start a supervised worker.
	WorkerArgs []string

	// Build, when set, runs before each respawn so the new worker picks
	// up the changed sources. A failed build keeps the current worker.
	Build func(ctx context.Context) error

	// PIDFile receives the reloader's own pid for the lifetime of Run.
	PIDFile string

	// LockFile is the daemon lock that guards the pid record. It is the
	// same file the Manager locks.
	LockFile string

	// StopTimeout bounds stopping the worker before a respawn. When Run
	// exits, the worker gets half of it, so a Manager stopping the
	// reloader with the same timeout never kills the reloader first.
	StopTimeout time.Duration

	Supervisor ProcessSupervisor
	Logger     *log.Logger
}

// Reloader runs a worker subprocess and respawns it whenever watched Go
// sources change. It owns the daemon pid record, so callers see one
// continuously running daemon across reloads.
type Reloader struct {
	cfg    ReloaderConfig
	sup    ProcessSupervisor
	logger *log.Logger

	restart chan struct{}
	watcher *fsnotify.Watcher
	pid     int
}

// NewReloader returns a Reloader.
func NewReloader(cfg ReloaderConfig) *Reloader {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 1500 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if len(cfg.Dirs) == 0 {
		cfg.Dirs = []string{"."}
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = NewOSSupervisor("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Reloader{
		cfg:     cfg,
		sup:     sup,
		logger:  logger,
		restart: make(chan struct{}, 1),
	}
}

// Run watches, spawns and respawns until ctx is done, then stops the
// worker and removes the pid record.
func (r *Reloader) Run(ctx context.Context) error {
	self := os.Getpid()
	if err := r.claim(self); err != nil {
		return err
	}
	defer func() {
		if err := RemovePID(r.cfg.PIDFile, self); err != nil {
			r.logger.Warn("failed to remove pid file", "err", err)
		}
	}()

	var err error
	r.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer r.watcher.Close() //nolint:errcheck

	for _, dir := range r.cfg.Dirs {
		if err := r.addTree(dir); err != nil {
			return err
		}
	}

	deb := newDebouncer(r.cfg.Debounce, r.requestRestart)
	defer deb.Stop()

	if err := r.spawn(); err != nil {
		return err
	}
	defer r.stopWorker(r.cfg.StopTimeout / 2)

	r.logger.Info("watching for changes", "dirs", r.cfg.Dirs, "debounce", r.cfg.Debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(event, deb)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Debug("fsnotify error", "error", err)
		case <-r.restart:
			r.logger.Info("source changed, restarting worker")
			if r.cfg.Build != nil {
				if err := r.cfg.Build(ctx); err != nil {
					r.logger.Error("build failed, keeping current worker", "err", err)
					continue
				}
			}
			r.stopWorker(r.cfg.StopTimeout)
			if err := r.spawn(); err != nil {
				r.logger.Error("failed to respawn worker", "err", err)
			}
		}
	}
}

// claim records pid as the daemon. The liveness check and the write
// happen under the daemon lock that Manager.EnsureRunning takes.
func (r *Reloader) claim(pid int) error {
	lock := flock.New(r.cfg.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("take daemon lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release daemon lock", "err", err)
		}
	}()

	if cur, err := ReadPID(r.cfg.PIDFile); err == nil && cur != 0 && r.sup.Alive(cur) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, cur)
	}
	return WritePID(r.cfg.PIDFile, pid)
}

func (r *Reloader) requestRestart() {
	select {
	case r.restart <- struct{}{}:
	default:
	}
}

func (r *Reloader) handleEvent(event fsnotify.Event, deb *debouncer) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := r.addTree(event.Name); err != nil {
				r.logger.Warn("failed to watch new directory", "dir", event.Name, "err", err)
			}
			return
		}
	}
	if !watchable(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	r.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
	deb.Trigger()
}

// addTree watches root and every directory below it that is not skipped.
func (r *Reloader) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := r.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (r *Reloader) spawn() error {
	pid, err := r.sup.Spawn(r.cfg.WorkerArgs)
	if err != nil {
		return err
	}
	r.pid = pid
	r.logger.Info("worker spawned", "pid", pid)
	return nil
}

func (r *Reloader) stopWorker(timeout time.Duration) {
	if r.pid == 0 {
		return
	}
	graceful, err := terminate(r.sup, r.pid, 1, timeout)
	switch {
	case err != nil:
		r.logger.Error("failed to stop worker", "pid", r.pid, "err", err)
	case !graceful:
		r.logger.Warn("worker killed after timeout", "pid", r.pid)
	}
	r.pid = 0
}
