package queue

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is how often Dequeue re-reads the store while
	// waiting for work written by other processes.
	DefaultPollInterval = 100 * time.Millisecond

	// errorBackoff is how long Dequeue pauses after a store error.
	errorBackoff = 500 * time.Millisecond
)

// Broker hands envelopes between producers and the consumer. It never
// surfaces store failures to producers: Enqueue reports false and logs.
type Broker struct {
	store  *Store
	logger *log.Logger
	poll   time.Duration

	// notify wakes a waiting Dequeue when this process enqueues.
	notify chan struct{}

	// errLog throttles store error logging from the dequeue path.
	errLog rate.Sometimes
}

// NewBroker returns a broker over store. A nil store yields a broker
// whose operations all fail softly, for callers that could not open the
// database.
func NewBroker(store *Store, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		store:  store,
		logger: logger,
		poll:   DefaultPollInterval,
		notify: make(chan struct{}, 1),
		errLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// SetPollInterval changes how often Dequeue polls the store.
func (b *Broker) SetPollInterval(d time.Duration) {
	if d > 0 {
		b.poll = d
	}
}

// Available reports whether the broker has a store behind it.
func (b *Broker) Available() bool { return b.store != nil }

// Enqueue durably records m. It reports false if the store is missing or
// the write failed.
func (b *Broker) Enqueue(ctx context.Context, m *Message) bool {
	if m == nil {
		return false
	}
	if b.store == nil {
		b.logger.Warn("queue not available, message dropped", "kind", m.Kind, "text", m.Text)
		return false
	}
	if err := b.store.Put(ctx, m); err != nil {
		b.logger.Error("failed to enqueue message", "id", m.ID, "kind", m.Kind, "err", err)
		return false
	}

	b.logger.Debug("enqueued message", "id", m.ID, "kind", m.Kind, "priority", m.Priority, "voice", m.Voice)

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue waits up to timeout for the highest priority ready envelope.
// It returns nil on timeout, cancellation or store errors.
func (b *Broker) Dequeue(ctx context.Context, timeout time.Duration) *Message {
	if b.store == nil {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		m, err := b.store.Claim(ctx)
		switch {
		case err == nil && m != nil:
			return m
		case errors.Is(err, ErrCorruptPayload):
			b.logger.Error("dropped undecodable message", "err", err)
			continue
		case err != nil:
			b.errLog.Do(func() {
				b.logger.Error("failed to dequeue message", "err", err)
			})
			wait(ctx, min(errorBackoff, max(time.Until(deadline), 0)), nil)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if !wait(ctx, min(b.poll, remaining), b.notify) {
			return nil
		}
	}
}

// wait blocks for d, until wake fires, or until ctx is done. It reports
// false only if ctx ended the wait.
func wait(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-t.C:
		return true
	}
}

// Ack removes m from the queue permanently.
func (b *Broker) Ack(ctx context.Context, m *Message) error {
	if b.store == nil {
		return ErrStoreClosed
	}
	return b.store.Ack(ctx, m)
}

// Nack returns m, with any metadata the caller changed, to the queue.
func (b *Broker) Nack(ctx context.Context, m *Message) error {
	return b.Defer(ctx, m, time.Time{})
}

// Defer returns m to the queue like Nack, but it will not be handed out
// again before until.
func (b *Broker) Defer(ctx context.Context, m *Message, until time.Time) error {
	if b.store == nil {
		return ErrStoreClosed
	}
	return b.store.Nack(ctx, m, until)
}

// Size returns the number of envelopes neither acked nor dropped. It
// returns 0 when the store cannot be read.
func (b *Broker) Size(ctx context.Context) int {
	if b.store == nil {
		return 0
	}
	n, err := b.store.Count(ctx)
	if err != nil {
		b.logger.Error("failed to count queue", "err", err)
		return 0
	}
	return n
}

// Clear drops every pending envelope, including ones waiting for a
// retry, and returns how many were removed.
func (b *Broker) Clear(ctx context.Context) int {
	if b.store == nil {
		return 0
	}
	n, err := b.store.Clear(ctx)
	if err != nil {
		b.logger.Error("failed to clear queue", "err", err)
		return 0
	}
	if n > 0 {
		b.logger.Info("cleared queue", "removed", n)
	}
	return n
}

// RecoverUnacked makes envelopes claimed by a crashed consumer ready again.
func (b *Broker) RecoverUnacked(ctx context.Context) int {
	if b.store == nil {
		return 0
	}
	n, err := b.store.RecoverUnacked(ctx)
	if err != nil {
		b.logger.Error("failed to recover unacked messages", "err", err)
		return 0
	}
	if n > 0 {
		b.logger.Info("recovered unacked messages", "count", n)
	}
	return n
}

// PurgeShutdown drops stale shutdown sentinels enqueued before cutoff.
func (b *Broker) PurgeShutdown(ctx context.Context, cutoff time.Time) int {
	if b.store == nil {
		return 0
	}
	n, err := b.store.PurgeShutdown(ctx, cutoff)
	if err != nil {
		b.logger.Error("failed to purge stale shutdown messages", "err", err)
		return 0
	}
	if n > 0 {
		b.logger.Info("purged stale shutdown messages", "count", n)
	}
	return n
}

// SendShutdown enqueues the shutdown sentinel ahead of all other work.
func (b *Broker) SendShutdown(ctx context.Context) bool {
	m := &Message{Kind: KindShutdown, Priority: PriorityShutdown}
	return b.Enqueue(ctx, m)
}

// Close closes the underlying store.
func (b *Broker) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
