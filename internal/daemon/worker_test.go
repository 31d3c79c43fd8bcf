package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/dgnsrekt/voiceq/internal/queue"
	"github.com/dgnsrekt/voiceq/internal/sink"
)

func newWorkerBroker(t *testing.T) *queue.Broker {
	t.Helper()
	store, err := queue.OpenStore(queue.StoreConfig{
		Path:   filepath.Join(t.TempDir(), "queue.db"),
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	b := queue.NewBroker(store, quietLogger())
	b.SetPollInterval(10 * time.Millisecond)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	if !pollUntil(timeout, 10*time.Millisecond, cond) {
		t.Fatalf("condition not met within %v", timeout)
	}
}

func TestRunWorkerDeliversAndStopsOnSignal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := newWorkerBroker(t)
	mock := sink.NewMock()

	// A shutdown left behind by a previous worker must not stop this one.
	if !b.SendShutdown(ctx) {
		t.Fatal("SendShutdown() = false")
	}
	time.Sleep(5 * time.Millisecond)

	for _, text := range []string{"build finished", "tests passed"} {
		if !b.Enqueue(ctx, queue.NewMessage(queue.KindSpeak, text)) {
			t.Fatalf("Enqueue(%q) = false", text)
		}
	}

	sigs := make(chan os.Signal, 1)
	cfg := WorkerConfig{
		Broker:         b,
		Speaker:        mock,
		Consumer:       queue.ConsumerConfig{PollTimeout: 50 * time.Millisecond},
		PIDFile:        filepath.Join(dir, "daemon.pid"),
		StatusFile:     filepath.Join(dir, "daemon.status"),
		StatusInterval: 20 * time.Millisecond,
		Signals:        sigs,
		Logger:         quietLogger(),
	}

	done := make(chan error, 1)
	go func() { done <- RunWorker(ctx, cfg) }()

	waitFor(t, 3*time.Second, func() bool { return mock.Count() == 2 })

	if pid, err := ReadPID(cfg.PIDFile); err != nil || pid != os.Getpid() {
		t.Errorf("pid record = %d, %v, want %d", pid, err, os.Getpid())
	}
	waitFor(t, time.Second, func() bool {
		st := ReadStatus(cfg.StatusFile)
		return st.Running && st.MessagesProcessed == 2
	})

	sigs <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunWorker() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunWorker() did not return after signal")
	}

	if _, err := os.Stat(cfg.PIDFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pid file not removed on exit: %v", err)
	}
	st := ReadStatus(cfg.StatusFile)
	if st.Running {
		t.Error("final status reports running")
	}
	if st.MessagesProcessed != 2 {
		t.Errorf("final MessagesProcessed = %d, want 2", st.MessagesProcessed)
	}
	if n := b.Size(ctx); n != 0 {
		t.Errorf("queue size after exit = %d, want 0", n)
	}
}

func TestRunWorkerSupervisedLeavesPIDRecord(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	if err := WritePID(pidFile, 4242); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunWorker(ctx, WorkerConfig{
			Broker:     newWorkerBroker(t),
			Speaker:    sink.NewMock(),
			Consumer:   queue.ConsumerConfig{PollTimeout: 20 * time.Millisecond},
			PIDFile:    pidFile,
			StatusFile: filepath.Join(dir, "daemon.status"),
			Supervised: true,
			Signals:    make(chan os.Signal),
			Logger:     quietLogger(),
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunWorker() did not return after cancel")
	}

	if pid, err := ReadPID(pidFile); err != nil || pid != 4242 {
		t.Errorf("pid record = %d, %v, want the supervisor's 4242", pid, err)
	}
}
