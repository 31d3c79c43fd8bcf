package queue

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
)

// SpeakOptions customizes an enqueued notification. Zero values mean
// "use the default" for every field.
type SpeakOptions struct {
	Voice     string
	SessionID string
	Kind      Kind
	Priority  int
	Metadata  map[string]any
}

// Producer is the caller-side API. Every method returns immediately after
// the envelope has been durably recorded, or after recording failed.
type Producer struct {
	broker *Broker
	logger *log.Logger
}

// NewProducer returns a producer writing through broker.
func NewProducer(broker *Broker, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{broker: broker, logger: logger}
}

// Speak enqueues text. Blank text is rejected.
func (p *Producer) Speak(ctx context.Context, text string, opts SpeakOptions) bool {
	if strings.TrimSpace(text) == "" {
		p.logger.Debug("skipping empty notification")
		return false
	}
	if opts.Kind == KindShutdown {
		return false
	}

	priority := opts.Priority
	if priority == 0 {
		priority = opts.Kind.DefaultPriority()
	}
	if priority >= PriorityShutdown {
		priority = PriorityShutdown - 1
	}

	metadata := make(map[string]any, len(opts.Metadata))
	for k, v := range opts.Metadata {
		if k == MetaRetryCount || k == MetaLastRetryTime {
			continue
		}
		metadata[k] = v
	}

	m := &Message{
		Kind:      opts.Kind,
		Text:      text,
		Voice:     opts.Voice,
		SessionID: opts.SessionID,
		Priority:  priority,
		Metadata:  metadata,
	}
	return p.broker.Enqueue(ctx, m)
}

// Greeting enqueues a session greeting.
func (p *Producer) Greeting(ctx context.Context, text, voice, sessionID string) bool {
	return p.Speak(ctx, text, SpeakOptions{Kind: KindGreeting, Voice: voice, SessionID: sessionID})
}

// Completion enqueues a completion notice.
func (p *Producer) Completion(ctx context.Context, text, voice, sessionID string) bool {
	return p.Speak(ctx, text, SpeakOptions{Kind: KindCompletion, Voice: voice, SessionID: sessionID})
}

// Error enqueues an error notice.
func (p *Producer) Error(ctx context.Context, text, voice, sessionID string) bool {
	return p.Speak(ctx, text, SpeakOptions{Kind: KindError, Voice: voice, SessionID: sessionID})
}

// Approval enqueues an approval request, the most urgent kind.
func (p *Producer) Approval(ctx context.Context, text, voice, sessionID string) bool {
	return p.Speak(ctx, text, SpeakOptions{Kind: KindApproval, Voice: voice, SessionID: sessionID})
}

// ClearQueue drops every pending envelope. It reports false only when the
// queue is unavailable.
func (p *Producer) ClearQueue(ctx context.Context) bool {
	if !p.broker.Available() {
		return false
	}
	p.broker.Clear(ctx)
	return true
}

// QueueSize returns the number of pending envelopes.
func (p *Producer) QueueSize(ctx context.Context) int {
	return p.broker.Size(ctx)
}
