package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrConsumerRunning is returned by Start and Run when the loop is
// already active.
var ErrConsumerRunning = errors.New("consumer is already running")

// Speaker is the output the consumer delivers envelopes to.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// ConsumerConfig tunes the delivery loop.
type ConsumerConfig struct {
	// PollTimeout bounds each Dequeue wait. Defaults to 500ms.
	PollTimeout time.Duration

	// MinSpacing is the minimum gap between the end of one successful
	// delivery and the start of the next.
	MinSpacing time.Duration

	// MaxRetries is how many failed attempts are retried before the
	// envelope is dropped. Defaults to 3.
	MaxRetries int

	// Backoff is the retry delay table. Defaults to DefaultBackoff.
	Backoff Backoff

	// RetryIdle is the pause after putting back an envelope that is not
	// yet due, so a lone pending retry does not spin the loop.
	RetryIdle time.Duration

	// OnProcessed is called after every successful delivery.
	OnProcessed func(*Message)

	Logger *log.Logger
	Now    func() time.Time
}

// Stats counts what the consumer has done since it was created.
type Stats struct {
	Processed     int64
	Failed        int64
	Retried       int64
	Dropped       int64
	LastProcessed time.Time
}

// Consumer is the single delivery loop. It dequeues envelopes, spaces
// deliveries out, invokes the speaker and acks, retries or drops.
type Consumer struct {
	broker  *Broker
	speaker Speaker
	cfg     ConsumerConfig
	logger  *log.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       ConsumerState
	done        chan struct{}
	stats       Stats
	lastSuccess time.Time
}

// NewConsumer returns a stopped consumer. A nil speaker makes the
// consumer drop every envelope.
func NewConsumer(broker *Broker, speaker Speaker, cfg ConsumerConfig) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.RetryIdle <= 0 {
		cfg.RetryIdle = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Consumer{
		broker:  broker,
		speaker: speaker,
		cfg:     cfg,
		logger:  logger,
		now:     now,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Start runs the loop in a new goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	go c.loop(ctx)
	return nil
}

// Run runs the loop in the calling goroutine until a shutdown envelope
// arrives or ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	c.loop(ctx)
	return nil
}

// Stop requests a cooperative shutdown by enqueueing the shutdown
// sentinel. With wait set it blocks until the loop exits or timeout
// elapses, and reports whether the loop exited.
func (c *Consumer) Stop(wait bool, timeout time.Duration) bool {
	c.mu.Lock()
	if c.state != StateRunning {
		stopped := c.state == StateStopped
		done := c.done
		c.mu.Unlock()
		if stopped || !wait {
			return stopped
		}
		return waitDone(done, timeout)
	}
	c.state = StateStopping
	done := c.done
	c.mu.Unlock()

	if !c.broker.SendShutdown(context.Background()) {
		c.logger.Error("failed to send shutdown to consumer")
	}
	if !wait {
		return true
	}
	return waitDone(done, timeout)
}

// Done is closed when the current loop exits.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (c *Consumer) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, StateRunning) {
		return ErrConsumerRunning
	}
	c.state = StateRunning
	c.done = make(chan struct{})
	return nil
}

func (c *Consumer) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStopped
	close(c.done)
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.finish()
	c.logger.Info("consumer started", "max_retries", c.cfg.MaxRetries, "min_spacing", c.cfg.MinSpacing)

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer cancelled")
			return
		}

		m := c.broker.Dequeue(ctx, c.cfg.PollTimeout)
		if m == nil {
			continue
		}

		if m.IsShutdown() {
			c.ack(ctx, m)
			c.logger.Info("consumer received shutdown")
			return
		}

		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m *Message) {
	retries := m.RetryCount()
	if last, ok := m.LastRetryTime(); ok && retries > 0 {
		due := last.Add(c.cfg.Backoff.Delay(retries))
		if c.now().Before(due) {
			c.putBack(ctx, m, due)
			wait(ctx, c.cfg.RetryIdle, nil)
			return
		}
	}

	if c.speaker == nil {
		c.logger.Warn("no speech sink configured, dropping message", "id", m.ID)
		c.ack(ctx, m)
		c.count(func(s *Stats) { s.Dropped++ })
		return
	}

	c.waitForSpacing(ctx)
	if ctx.Err() != nil {
		c.putBack(ctx, m, time.Time{})
		return
	}

	c.logger.Debug("delivering message", "id", m.ID, "kind", m.Kind, "voice", m.Voice, "retry", retries)
	err := c.speaker.Speak(ctx, m.Text, m.Voice)
	if err == nil {
		c.ack(ctx, m)
		now := c.now()
		c.mu.Lock()
		c.lastSuccess = now
		c.stats.Processed++
		c.stats.LastProcessed = now
		c.mu.Unlock()
		if c.cfg.OnProcessed != nil {
			c.cfg.OnProcessed(m)
		}
		return
	}

	c.count(func(s *Stats) { s.Failed++ })

	if retries >= c.cfg.MaxRetries {
		c.logger.Error("message dropped after max retries",
			"id", m.ID, "retries", retries, "text", m.Text, "err", err)
		c.ack(ctx, m)
		c.count(func(s *Stats) { s.Dropped++ })
		return
	}

	at := c.now()
	m.RecordFailure(at)
	c.logger.Warn("delivery failed, will retry",
		"id", m.ID, "retry", m.RetryCount(), "max_retries", c.cfg.MaxRetries, "err", err)
	c.putBack(ctx, m, at.Add(c.cfg.Backoff.Delay(m.RetryCount())))
	c.count(func(s *Stats) { s.Retried++ })
}

func (c *Consumer) waitForSpacing(ctx context.Context) {
	if c.cfg.MinSpacing <= 0 {
		return
	}
	c.mu.Lock()
	last := c.lastSuccess
	c.mu.Unlock()
	if last.IsZero() {
		return
	}
	if remaining := c.cfg.MinSpacing - c.now().Sub(last); remaining > 0 {
		wait(ctx, remaining, nil)
	}
}

func (c *Consumer) ack(ctx context.Context, m *Message) {
	if err := c.broker.Ack(context.WithoutCancel(ctx), m); err != nil {
		c.logger.Error("failed to ack message", "id", m.ID, "err", err)
	}
}

func (c *Consumer) putBack(ctx context.Context, m *Message, due time.Time) {
	if err := c.broker.Defer(context.WithoutCancel(ctx), m, due); err != nil {
		c.logger.Error("failed to nack message", "id", m.ID, "err", err)
	}
}

func (c *Consumer) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
