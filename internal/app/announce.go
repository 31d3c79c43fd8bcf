package app

import (
	"cmp"
	"context"
	"errors"

	"github.com/dgnsrekt/voiceq/internal/queue"
	"github.com/dgnsrekt/voiceq/internal/speechlock"
)

// Announcement is one notification from a caller.
type Announcement struct {
	Kind      queue.Kind
	Text      string
	SessionID string
	// Voice is the preferred voice. The session registry may pick
	// another one if it is taken.
	Voice    string
	Priority int
	Metadata map[string]any
}

// Announce is the caller path. When delivery is disabled it clears the
// backlog instead. Otherwise it suppresses duplicates, resolves the
// session voice, makes sure a worker is running and enqueues. A text that
// could not be queued is not remembered as announced. It never waits for
// delivery and reports whether the envelope was queued.
func (s *Services) Announce(ctx context.Context, a Announcement) bool {
	p := s.Producer()
	if !s.Config.Enabled {
		s.Logger.Debug("voice disabled, clearing queue")
		p.ClearQueue(ctx)
		return false
	}

	if s.Dedup().IsDuplicate(a.Text) {
		s.Logger.Debug("duplicate notification suppressed", "text", a.Text)
		return false
	}

	voice := s.Sessions().VoiceFor(a.SessionID, cmp.Or(a.Voice, s.Config.Voice.Default))

	// Enqueue even without a worker: the next one to start delivers it.
	if !s.Daemon().EnsureRunning(ctx) {
		s.Logger.Warn("worker not running, message will wait in the queue")
	}

	queued := p.Speak(ctx, a.Text, queue.SpeakOptions{
		Kind:      a.Kind,
		Voice:     voice,
		SessionID: a.SessionID,
		Priority:  a.Priority,
		Metadata:  a.Metadata,
	})
	if !queued {
		s.Dedup().Forget(a.Text)
	}
	return queued
}

// SpeakNow bypasses the queue and speaks in the calling process, holding
// the output mutex so it never talks over the worker. A lock timeout is
// returned as speechlock.ErrTimeout and the announcement is skipped.
func (s *Services) SpeakNow(ctx context.Context, text, voice string) error {
	out := s.Sink()
	if out == nil {
		return nil
	}
	voice = cmp.Or(voice, s.Config.Voice.Default)
	err := s.SpeechLock().Do(ctx, s.Config.Timing.MinSpeechDelay, func(ctx context.Context) error {
		return out.Speak(ctx, text, voice)
	})
	if errors.Is(err, speechlock.ErrTimeout) {
		s.Logger.Warn("output busy, skipping announcement", "text", text)
	}
	return err
}
