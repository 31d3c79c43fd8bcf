package sink

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

type fakeRunner struct {
	name  string
	args  []string
	input string
	calls int
	err   error
}

func (f *fakeRunner) Run(_ context.Context, input string, name string, args ...string) error {
	f.calls++
	f.name, f.args, f.input = name, args, input
	return f.err
}

func newTestSink(goos string, r Runner, mutate func(*CommandConfig)) *CommandSink {
	cfg := CommandConfig{GOOS: goos, Runner: r, Logger: log.New(io.Discard)}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewCommandSink(cfg)
}

func TestCommandSinkInvocation(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		mutate    func(*CommandConfig)
		voice     string
		wantName  string
		wantArgs  []string
		wantInput string
	}{
		{
			name:     "macOS fallback voice",
			goos:     "darwin",
			voice:    "nova",
			wantName: "say",
			wantArgs: []string{"-v", "Samantha", "build finished"},
		},
		{
			name: "macOS mapped voice with rate",
			goos: "darwin",
			mutate: func(c *CommandConfig) {
				c.Voices = map[string]string{"onyx": "Daniel"}
				c.Rate = 190
			},
			voice:    "onyx",
			wantName: "say",
			wantArgs: []string{"-v", "Daniel", "-r", "190", "build finished"},
		},
		{
			name:     "linux espeak",
			goos:     "linux",
			voice:    "nova",
			wantName: "espeak",
			wantArgs: []string{"build finished"},
		},
		{
			name:      "windows reads text from stdin",
			goos:      "windows",
			voice:     "nova",
			wantName:  "powershell",
			wantInput: "build finished",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			s := newTestSink(tt.goos, r, tt.mutate)

			if err := s.Speak(context.Background(), "build_finished", tt.voice); err != nil {
				t.Fatalf("Speak() error = %v", err)
			}
			if r.name != tt.wantName {
				t.Errorf("command = %q, want %q", r.name, tt.wantName)
			}
			if tt.wantArgs != nil && !reflect.DeepEqual(r.args, tt.wantArgs) {
				t.Errorf("args = %q, want %q", r.args, tt.wantArgs)
			}
			if r.input != tt.wantInput {
				t.Errorf("stdin = %q, want %q", r.input, tt.wantInput)
			}
		})
	}
}

func TestCommandSinkSkipsShortText(t *testing.T) {
	r := &fakeRunner{}
	s := newTestSink("linux", r, nil)

	if err := s.Speak(context.Background(), " ok ", "nova"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if r.calls != 0 {
		t.Errorf("runner called %d times for short text, want 0", r.calls)
	}
}

func TestCommandSinkErrors(t *testing.T) {
	boom := errors.New("boom")
	s := newTestSink("linux", &fakeRunner{err: boom}, nil)
	if err := s.Speak(context.Background(), "hello there", "nova"); !errors.Is(err, boom) {
		t.Errorf("Speak() error = %v, want wrapped runner error", err)
	}

	s = newTestSink("plan9", &fakeRunner{}, nil)
	if err := s.Speak(context.Background(), "hello there", "nova"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Errorf("Speak() error = %v, want ErrUnsupportedPlatform", err)
	}
}

func TestWindowsVoiceQuoting(t *testing.T) {
	r := &fakeRunner{}
	s := newTestSink("windows", r, func(c *CommandConfig) {
		c.FallbackVoice = "Microsoft Zira's"
	})
	_ = s.Speak(context.Background(), "hello there", "nova")

	script := r.args[len(r.args)-1]
	if !strings.Contains(script, "SelectVoice('Microsoft Zira''s')") {
		t.Errorf("script = %q, want an escaped SelectVoice call", script)
	}
}

func TestFormatForSpeech(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"config_loader.py", "config loader python file"},
		{"package.json", "package JSON file"},
		{"index.js", "index javascript file"},
		{"README.md", "README markdown file"},
		{"main_test.go", "main test go file"},
		{"re-run", "re run"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		if got := FormatForSpeech(tt.in); got != tt.want {
			t.Errorf("FormatForSpeech(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
