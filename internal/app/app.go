// Package app builds the per-process service context: every component a
// command needs, constructed once from the resolved configuration.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/config"
	"github.com/dgnsrekt/voiceq/internal/daemon"
	"github.com/dgnsrekt/voiceq/internal/dedup"
	"github.com/dgnsrekt/voiceq/internal/queue"
	"github.com/dgnsrekt/voiceq/internal/session"
	"github.com/dgnsrekt/voiceq/internal/sink"
	"github.com/dgnsrekt/voiceq/internal/speechlock"
	"github.com/dgnsrekt/voiceq/internal/state"
)

// WorkerArgs are the arguments that start a detached worker.
var WorkerArgs = []string{"daemon", "worker"}

// Services holds the components of one process. Components are built on
// first use, so a caller that only enqueues never opens the session
// table.
type Services struct {
	Config config.Config
	Paths  config.Paths
	Logger *log.Logger

	// Supervisor overrides the process supervisor, for tests.
	Supervisor daemon.ProcessSupervisor
	// SinkOverride replaces the configured sink, for tests.
	SinkOverride sink.Sink

	brokerOnce sync.Once
	broker     *queue.Broker

	sessionsOnce sync.Once
	sessions     *session.Registry

	dedupOnce sync.Once
	dedup     *dedup.Deduplicator

	stateOnce sync.Once
	state     *state.Store
}

// New returns a Services for cfg. The runtime directory is created.
func New(cfg config.Config, logger *log.Logger) (*Services, error) {
	if logger == nil {
		logger = log.Default()
	}
	paths := cfg.Paths()
	if err := paths.EnsureDir(); err != nil {
		return nil, err
	}
	return &Services{Config: cfg, Paths: paths, Logger: logger}, nil
}

// Broker returns the queue broker. If the store cannot be opened the
// broker still works but refuses every envelope, so callers fail open.
func (s *Services) Broker() *queue.Broker {
	s.brokerOnce.Do(func() {
		store, err := queue.OpenStore(queue.StoreConfig{
			Path:   s.Paths.QueueDB,
			Logger: s.Logger,
		})
		if err != nil {
			s.Logger.Error("queue store unavailable", "path", s.Paths.QueueDB, "err", err)
			store = nil
		}
		s.broker = queue.NewBroker(store, s.Logger)
	})
	return s.broker
}

// Producer returns a producer on the shared broker.
func (s *Services) Producer() *queue.Producer {
	return queue.NewProducer(s.Broker(), s.Logger)
}

// ConsumerConfig maps the queue and timing settings onto the consumer.
func (s *Services) ConsumerConfig() queue.ConsumerConfig {
	return queue.ConsumerConfig{
		PollTimeout: s.Config.Queue.PollTimeout,
		MinSpacing:  s.Config.Timing.MinSpeechDelay,
		MaxRetries:  s.Config.Queue.MaxRetries,
		Backoff:     queue.ScaledBackoff(s.Config.Queue.RetryBackoffBase),
		Logger:      s.Logger,
	}
}

func (s *Services) supervisor() daemon.ProcessSupervisor {
	if s.Supervisor != nil {
		return s.Supervisor
	}
	sup := daemon.NewOSSupervisor(s.Paths.LogFile)
	sup.Env = []string{"VOICEQ_RUNTIME_DIR=" + s.Paths.Dir}
	return sup
}

// Daemon returns a manager for the detached worker.
func (s *Services) Daemon() *daemon.Manager {
	return daemon.NewManager(daemon.ManagerConfig{
		PIDFile:     s.Paths.PIDFile,
		LockFile:    s.Paths.DaemonLock,
		StatusFile:  s.Paths.StatusFile,
		WorkerArgs:  WorkerArgs,
		StartupWait: s.Config.Daemon.StartupWait,
		StopTimeout: s.Config.Daemon.StopTimeout,
		Supervisor:  s.supervisor(),
		Logger:      s.Logger,
	})
}

// Reloader returns the development supervisor that respawns the worker
// when sources change.
func (s *Services) Reloader(build func(context.Context) error) *daemon.Reloader {
	args := append(append([]string(nil), WorkerArgs...), "--supervised")
	return daemon.NewReloader(daemon.ReloaderConfig{
		Dirs:        s.Config.Daemon.WatchDirs,
		Debounce:    s.Config.Daemon.ReloadDebounce,
		WorkerArgs:  args,
		PIDFile:     s.Paths.PIDFile,
		LockFile:    s.Paths.DaemonLock,
		StopTimeout: s.Config.Daemon.StopTimeout,
		Build:       build,
		Supervisor:  s.supervisor(),
		Logger:      s.Logger,
	})
}

// Worker returns the configuration RunWorker needs.
func (s *Services) Worker(supervised bool) daemon.WorkerConfig {
	return daemon.WorkerConfig{
		Broker:         s.Broker(),
		Speaker:        s.lockedSink(),
		Consumer:       s.ConsumerConfig(),
		PIDFile:        s.Paths.PIDFile,
		StatusFile:     s.Paths.StatusFile,
		Supervised:     supervised,
		StatusInterval: s.Config.Daemon.StatusInterval,
		StopTimeout:    s.Config.Daemon.StopTimeout,
		Logger:         s.Logger,
	}
}

// Sink returns the configured speech output, or nil for the "none"
// kind, which makes the consumer drop every envelope.
func (s *Services) Sink() sink.Sink {
	if s.SinkOverride != nil {
		return s.SinkOverride
	}
	switch s.Config.Sink.Kind {
	case config.SinkNone:
		return nil
	case config.SinkLog:
		return sink.NewLogSink(s.Logger)
	default:
		return sink.NewCommandSink(sink.CommandConfig{
			MinChars:      s.Config.Voice.MinChars,
			Rate:          s.Config.Voice.Rate,
			FallbackVoice: s.Config.Voice.FallbackVoice,
			Voices:        s.Config.Voice.Map,
			Timeout:       s.Config.Sink.Timeout,
			Logger:        s.Logger,
		})
	}
}

// lockedSink wraps the sink so the worker holds the output mutex while
// speaking. Spacing is left to the consumer.
func (s *Services) lockedSink() queue.Speaker {
	out := s.Sink()
	if out == nil {
		return nil
	}
	lock := s.SpeechLock()
	return sink.Func(func(ctx context.Context, text, voice string) error {
		return lock.Do(ctx, 0, func(ctx context.Context) error {
			return out.Speak(ctx, text, voice)
		})
	})
}

// Sessions returns the shared session voice registry.
func (s *Services) Sessions() *session.Registry {
	s.sessionsOnce.Do(func() {
		s.sessions = session.New(session.Config{
			Path:   s.Paths.SessionsFile,
			Expiry: s.Config.Timing.SessionExpiry,
			Logger: s.Logger,
		})
	})
	return s.sessions
}

// Dedup returns the cross-process duplicate filter.
func (s *Services) Dedup() *dedup.Deduplicator {
	s.dedupOnce.Do(func() {
		s.dedup = dedup.Open(s.Paths.DedupFile, s.Config.Timing.DedupWindow, s.Logger)
	})
	return s.dedup
}

// SpeechLock returns the output mutex used by synchronous speech.
func (s *Services) SpeechLock() *speechlock.Lock {
	return speechlock.New(s.Paths.SpeechLock, s.Paths.SpeechTime, s.Config.Timing.SpeechLockTimeout)
}

// State returns the persisted task context.
func (s *Services) State() *state.Store {
	s.stateOnce.Do(func() {
		s.state = state.Open(s.Paths.StateFile)
	})
	return s.state
}

// Close releases the queue store if it was opened.
func (s *Services) Close() error {
	var errs []error
	if s.broker != nil {
		errs = append(errs, s.broker.Close())
	}
	return errors.Join(errs...)
}
