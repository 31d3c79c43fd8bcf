package sink

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// CommandConfig configures a CommandSink.
type CommandConfig struct {
	// GOOS selects the synthesizer. Defaults to runtime.GOOS.
	GOOS string

	// MinChars is the shortest text worth speaking. Shorter text is
	// skipped and counts as delivered.
	MinChars int

	// Rate is the words-per-minute passed to the synthesizer; 0 keeps
	// its default.
	Rate int

	// FallbackVoice is the platform voice used when a requested voice has
	// no mapping in Voices.
	FallbackVoice string

	// Voices maps pool voices (nova, alloy, ...) to platform voices.
	Voices map[string]string

	Timeout time.Duration
	Runner  Runner
	Logger  *log.Logger
}

// CommandSink speaks through the platform's command line synthesizer:
// say on macOS, espeak on Linux and SAPI through PowerShell on Windows.
type CommandSink struct {
	cfg    CommandConfig
	runner Runner
	logger *log.Logger
}

var _ Sink = (*CommandSink)(nil)

// NewCommandSink returns a CommandSink with defaults applied.
func NewCommandSink(cfg CommandConfig) *CommandSink {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 3
	}
	if cfg.FallbackVoice == "" && cfg.GOOS == "darwin" {
		cfg.FallbackVoice = "Samantha"
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewSubprocessManager(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &CommandSink{cfg: cfg, runner: runner, logger: logger}
}

// Name implements Sink.
func (s *CommandSink) Name() string {
	return fmt.Sprintf("system (%s)", s.cfg.GOOS)
}

// Speak implements Sink.
func (s *CommandSink) Speak(ctx context.Context, text, voice string) error {
	if len(strings.TrimSpace(text)) < s.cfg.MinChars {
		s.logger.Debug("skipping very short message", "text", text)
		return nil
	}

	name, args, input, err := s.command(FormatForSpeech(text), voice)
	if err != nil {
		return err
	}

	if err := s.runner.Run(ctx, input, name, args...); err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	s.logger.Debug("spoke message", "sink", s.Name(), "voice", voice, "text", text)
	return nil
}

func (s *CommandSink) platformVoice(voice string) string {
	if v, ok := s.cfg.Voices[voice]; ok && v != "" {
		return v
	}
	return s.cfg.FallbackVoice
}

// command builds the synthesizer invocation for text.
func (s *CommandSink) command(text, voice string) (name string, args []string, input string, err error) {
	pv := s.platformVoice(voice)

	switch s.cfg.GOOS {
	case "darwin":
		if pv != "" {
			args = append(args, "-v", pv)
		}
		if s.cfg.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(s.cfg.Rate))
		}
		return "say", append(args, text), "", nil

	case "linux", "freebsd", "openbsd", "netbsd":
		if pv != "" {
			args = append(args, "-v", pv)
		}
		if s.cfg.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(s.cfg.Rate))
		}
		return "espeak", append(args, text), "", nil

	case "windows":
		script := "Add-Type -AssemblyName System.Speech; " +
			"$s = New-Object System.Speech.Synthesis.SpeechSynthesizer; "
		if pv != "" {
			script += "$s.SelectVoice('" + strings.ReplaceAll(pv, "'", "''") + "'); "
		}
		script += "$s.Speak([Console]::In.ReadToEnd())"
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, text, nil

	default:
		return "", nil, "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, s.cfg.GOOS)
	}
}
