// Package config defines voiceq's typed configuration and the runtime
// file layout shared by every process.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config contains all configuration options.
type Config struct {
	// RuntimeDir holds the queue database, pid, lock and state files.
	RuntimeDir string `mapstructure:"runtime_dir" yaml:"runtime_dir" env:"VOICEQ_RUNTIME_DIR"`

	// Enabled turns delivery off entirely when false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" env:"VOICEQ_ENABLED"`

	Debug bool `mapstructure:"debug" yaml:"debug" env:"VOICEQ_DEBUG"`

	// EnvFile is loaded into the environment before configuration is
	// resolved, so a sink can find its credentials.
	EnvFile string `mapstructure:"env_file" yaml:"env_file" env:"VOICEQ_ENV_FILE"`

	Queue  QueueConfig  `mapstructure:"queue" yaml:"queue"`
	Timing TimingConfig `mapstructure:"timing" yaml:"timing"`
	Voice  VoiceConfig  `mapstructure:"voice" yaml:"voice"`
	Sink   SinkConfig   `mapstructure:"sink" yaml:"sink"`
	Daemon DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
}

// QueueConfig tunes the consumer.
type QueueConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries" env:"VOICEQ_QUEUE_MAX_RETRIES"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base" yaml:"retry_backoff_base" env:"VOICEQ_QUEUE_RETRY_BACKOFF_BASE"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout" env:"VOICEQ_QUEUE_POLL_TIMEOUT"`
}

// TimingConfig holds spacing and expiry settings.
type TimingConfig struct {
	MinSpeechDelay    time.Duration `mapstructure:"min_speech_delay" yaml:"min_speech_delay" env:"VOICEQ_TIMING_MIN_SPEECH_DELAY"`
	SessionExpiry     time.Duration `mapstructure:"session_expiry" yaml:"session_expiry" env:"VOICEQ_TIMING_SESSION_EXPIRY"`
	DedupWindow       time.Duration `mapstructure:"dedup_window" yaml:"dedup_window" env:"VOICEQ_TIMING_DEDUP_WINDOW"`
	SpeechLockTimeout time.Duration `mapstructure:"speech_lock_timeout" yaml:"speech_lock_timeout" env:"VOICEQ_TIMING_SPEECH_LOCK_TIMEOUT"`
}

// VoiceConfig selects voices and how the command sink renders them.
type VoiceConfig struct {
	// Default is the preferred voice offered to new sessions.
	Default string `mapstructure:"default" yaml:"default" env:"VOICEQ_VOICE_DEFAULT"`

	// FallbackVoice is the platform voice used for unmapped voices.
	FallbackVoice string `mapstructure:"fallback_voice" yaml:"fallback_voice" env:"VOICEQ_VOICE_FALLBACK"`

	// Map translates pool voices to platform voices.
	Map map[string]string `mapstructure:"map" yaml:"map" env:"VOICEQ_VOICE_MAP"`

	Rate     int `mapstructure:"rate" yaml:"rate" env:"VOICEQ_VOICE_RATE"`
	MinChars int `mapstructure:"min_chars" yaml:"min_chars" env:"VOICEQ_VOICE_MIN_CHARS"`
}

// Sink kinds.
const (
	SinkCommand = "command"
	SinkLog     = "log"
	SinkNone    = "none"
)

// SinkConfig selects the speech output.
type SinkConfig struct {
	Kind    string        `mapstructure:"kind" yaml:"kind" env:"VOICEQ_SINK_KIND"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" env:"VOICEQ_SINK_TIMEOUT"`
}

// DaemonConfig tunes the worker lifecycle.
type DaemonConfig struct {
	StartupWait    time.Duration `mapstructure:"startup_wait" yaml:"startup_wait" env:"VOICEQ_DAEMON_STARTUP_WAIT"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" env:"VOICEQ_DAEMON_STOP_TIMEOUT"`
	StatusInterval time.Duration `mapstructure:"status_interval" yaml:"status_interval" env:"VOICEQ_DAEMON_STATUS_INTERVAL"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce" yaml:"reload_debounce" env:"VOICEQ_DAEMON_RELOAD_DEBOUNCE"`
	WatchDirs      []string      `mapstructure:"watch_dirs" yaml:"watch_dirs" env:"VOICEQ_DAEMON_WATCH_DIRS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		EnvFile: ".env",
		Queue: QueueConfig{
			MaxRetries:       3,
			RetryBackoffBase: 500 * time.Millisecond,
			PollTimeout:      500 * time.Millisecond,
		},
		Timing: TimingConfig{
			MinSpeechDelay:    time.Second,
			SessionExpiry:     4 * time.Hour,
			DedupWindow:       5 * time.Second,
			SpeechLockTimeout: 10 * time.Second,
		},
		Voice: VoiceConfig{
			Default:  "nova",
			MinChars: 3,
		},
		Sink: SinkConfig{
			Kind:    SinkCommand,
			Timeout: 30 * time.Second,
		},
		Daemon: DaemonConfig{
			StartupWait:    2 * time.Second,
			StopTimeout:    5 * time.Second,
			StatusInterval: time.Second,
			ReloadDebounce: 1500 * time.Millisecond,
			WatchDirs:      []string{"."},
		},
	}
}

type durationRange struct {
	name     string
	value    time.Duration
	min, max time.Duration
}

// Validate checks that every setting is within its allowed range.
func (c Config) Validate() error {
	var errs []error

	if c.Queue.MaxRetries < 1 || c.Queue.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be between 1 and 10, got %d", c.Queue.MaxRetries))
	}

	ranges := []durationRange{
		{"queue.retry_backoff_base", c.Queue.RetryBackoffBase, 100 * time.Millisecond, 5 * time.Second},
		{"queue.poll_timeout", c.Queue.PollTimeout, 100 * time.Millisecond, 10 * time.Second},
		{"timing.min_speech_delay", c.Timing.MinSpeechDelay, 0, 60 * time.Second},
		{"timing.session_expiry", c.Timing.SessionExpiry, time.Hour, 72 * time.Hour},
		{"timing.dedup_window", c.Timing.DedupWindow, 0, 10 * time.Minute},
		{"timing.speech_lock_timeout", c.Timing.SpeechLockTimeout, 100 * time.Millisecond, 2 * time.Minute},
		{"sink.timeout", c.Sink.Timeout, time.Second, 10 * time.Minute},
		{"daemon.startup_wait", c.Daemon.StartupWait, 100 * time.Millisecond, time.Minute},
		{"daemon.stop_timeout", c.Daemon.StopTimeout, 100 * time.Millisecond, time.Minute},
		{"daemon.status_interval", c.Daemon.StatusInterval, 100 * time.Millisecond, time.Minute},
		{"daemon.reload_debounce", c.Daemon.ReloadDebounce, 0, time.Minute},
	}
	for _, r := range ranges {
		if r.value < r.min || r.value > r.max {
			errs = append(errs, fmt.Errorf("%s must be between %v and %v, got %v", r.name, r.min, r.max, r.value))
		}
	}

	if c.Voice.MinChars < 0 || c.Voice.MinChars > 100 {
		errs = append(errs, fmt.Errorf("voice.min_chars must be between 0 and 100, got %d", c.Voice.MinChars))
	}
	if c.Voice.Rate < 0 || c.Voice.Rate > 1000 {
		errs = append(errs, fmt.Errorf("voice.rate must be between 0 and 1000, got %d", c.Voice.Rate))
	}

	switch c.Sink.Kind {
	case SinkCommand, SinkLog, SinkNone:
	default:
		errs = append(errs, fmt.Errorf("sink.kind must be one of %q, %q or %q, got %q", SinkCommand, SinkLog, SinkNone, c.Sink.Kind))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
