package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/queue"
)

// WorkerConfig configures RunWorker.
type WorkerConfig struct {
	Broker   *queue.Broker
	Speaker  queue.Speaker
	Consumer queue.ConsumerConfig

	PIDFile    string
	StatusFile string

	// Supervised is set when a Reloader owns the pid record, so the
	// worker must leave it alone.
	Supervised bool

	// StatusInterval is how often the status file is refreshed.
	// Defaults to 1s.
	StatusInterval time.Duration

	// StopTimeout bounds how long a signalled worker waits for the
	// consumer to finish its current message. Defaults to 5s.
	StopTimeout time.Duration

	// Signals overrides the OS signal source, for tests.
	Signals <-chan os.Signal

	Logger *log.Logger
}

type worker struct {
	cfg      WorkerConfig
	logger   *log.Logger
	pid      int
	started  time.Time
	consumer *queue.Consumer

	mu sync.Mutex
}

// RunWorker is the body of the worker process. It recovers envelopes a
// crashed worker left claimed, drops shutdown sentinels aimed at a
// previous worker, then runs the consumer until a shutdown envelope, a
// termination signal or ctx ends it.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	w := &worker{
		cfg:     cfg,
		logger:  logger,
		pid:     os.Getpid(),
		started: time.Now(),
	}

	if !cfg.Supervised {
		if err := WritePID(cfg.PIDFile, w.pid); err != nil {
			return err
		}
		defer func() {
			if err := RemovePID(cfg.PIDFile, w.pid); err != nil {
				logger.Warn("failed to remove pid file", "err", err)
			}
		}()
	}

	if n := cfg.Broker.RecoverUnacked(ctx); n > 0 {
		logger.Info("recovered unacknowledged messages", "count", n)
	}
	if n := cfg.Broker.PurgeShutdown(ctx, w.started); n > 0 {
		logger.Info("discarded stale shutdown requests", "count", n)
	}

	cc := cfg.Consumer
	cc.Logger = logger
	hook := cc.OnProcessed
	cc.OnProcessed = func(m *queue.Message) {
		w.writeStatus(ctx, true)
		if hook != nil {
			hook(m)
		}
	}
	w.consumer = queue.NewConsumer(cfg.Broker, cfg.Speaker, cc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := cfg.Signals
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigs = ch
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.handleSignals(ctx, sigs, cancel)
	}()
	go func() {
		defer wg.Done()
		w.reportStatus(ctx)
	}()

	logger.Info("worker started", "pid", w.pid, "supervised", cfg.Supervised)
	err := w.consumer.Run(ctx)
	cancel()
	wg.Wait()

	w.writeStatus(context.Background(), false)
	logger.Info("worker stopped", "pid", w.pid, "processed", w.consumer.Stats().Processed)
	return err
}

// handleSignals turns the first signal into a cooperative stop and a
// second one, or an overdue stop, into cancellation.
func (w *worker) handleSignals(ctx context.Context, sigs <-chan os.Signal, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
		return
	case sig := <-sigs:
		w.logger.Info("received shutdown signal", "signal", sig)
		w.consumer.Stop(false, 0)
	}

	t := time.NewTimer(w.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.consumer.Done():
	case sig := <-sigs:
		w.logger.Warn("second signal, cancelling", "signal", sig)
		cancel()
	case <-t.C:
		w.logger.Warn("consumer did not stop in time, cancelling")
		cancel()
	}
}

func (w *worker) reportStatus(ctx context.Context) {
	w.writeStatus(ctx, true)
	t := time.NewTicker(w.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.writeStatus(ctx, true)
		}
	}
}

func (w *worker) writeStatus(ctx context.Context, running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	st := Status{
		Running:       running,
		PID:           w.pid,
		UptimeSeconds: now.Sub(w.started).Seconds(),
		StartedAt:     w.started,
		UpdatedAt:     now,
	}
	if w.consumer != nil {
		stats := w.consumer.Stats()
		st.MessagesProcessed = stats.Processed
		st.MessagesFailed = stats.Failed
		st.MessagesDropped = stats.Dropped
	}
	st.Pending = w.cfg.Broker.Size(context.WithoutCancel(ctx))

	if err := WriteStatus(w.cfg.StatusFile, st); err != nil {
		w.logger.Warn("failed to write status", "err", err)
	}
}
