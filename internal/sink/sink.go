package sink

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned when no synthesizer command is
// known for the running OS.
var ErrUnsupportedPlatform = errors.New("no speech command for this platform")

// Sink turns text into audible speech. Speak blocks until the speech has
// finished or failed.
type Sink interface {
	Speak(ctx context.Context, text, voice string) error
	Name() string
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, text, voice string) error

// Speak calls f.
func (f Func) Speak(ctx context.Context, text, voice string) error {
	return f(ctx, text, voice)
}

// Name implements Sink.
func (f Func) Name() string { return "func" }
