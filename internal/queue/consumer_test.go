package queue

import (
	"context"
	"testing"
	"time"
)

func newTestConsumer(b *Broker, s Speaker, cfg ConsumerConfig) *Consumer {
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 50 * time.Millisecond
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Backoff{0}
	}
	if cfg.RetryIdle == 0 {
		cfg.RetryIdle = 10 * time.Millisecond
	}
	cfg.Logger = quietLogger()
	return NewConsumer(b, s, cfg)
}

func TestConsumerDeliversInPriorityOrder(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	p := NewProducer(b, quietLogger())
	sp := &recordingSpeaker{}

	p.Speak(ctx, "routine", SpeakOptions{Voice: "alloy"})
	p.Error(ctx, "failure", "echo", "")
	p.Approval(ctx, "approve", "", "")

	c := newTestConsumer(b, sp, ConsumerConfig{})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(sp.Calls()) == 3 })
	if !c.Stop(true, 2*time.Second) {
		t.Fatal("Stop() did not observe the loop exit")
	}

	calls := sp.Calls()
	want := []spoken{{text: "approve", voice: "nova"}, {text: "failure", voice: "echo"}, {text: "routine", voice: "alloy"}}
	for i, w := range want {
		if calls[i].text != w.text || calls[i].voice != w.voice {
			t.Errorf("call %d = %q/%q, want %q/%q", i, calls[i].text, calls[i].voice, w.text, w.voice)
		}
	}
	if n := b.Size(ctx); n != 0 {
		t.Errorf("Size() = %d, want 0", n)
	}
	if st := c.Stats(); st.Processed != 3 {
		t.Errorf("Stats().Processed = %d, want 3", st.Processed)
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}

func TestConsumerRetryCeiling(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	sp := &recordingSpeaker{failN: -1}

	b.Enqueue(ctx, NewMessage(KindSpeak, "never heard"))

	c := newTestConsumer(b, sp, ConsumerConfig{MaxRetries: 3})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return c.Stats().Dropped == 1 })
	c.Stop(true, 2*time.Second)

	if got := len(sp.Calls()); got != 4 {
		t.Errorf("sink calls = %d, want 4 (first attempt plus 3 retries)", got)
	}
	if n := b.Size(ctx); n != 0 {
		t.Errorf("Size() = %d, want 0 after the terminal drop", n)
	}
	st := c.Stats()
	if st.Retried != 3 || st.Failed != 4 {
		t.Errorf("Stats() = %+v, want 3 retried and 4 failed", st)
	}
}

func TestConsumerTransientFailure(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	sp := &recordingSpeaker{failN: 2}

	b.Enqueue(ctx, NewMessage(KindSpeak, "eventually"))

	c := newTestConsumer(b, sp, ConsumerConfig{MaxRetries: 3})
	_ = c.Start(ctx)
	waitFor(t, 3*time.Second, func() bool { return c.Stats().Processed == 1 })
	c.Stop(true, 2*time.Second)

	if got := len(sp.Calls()); got != 3 {
		t.Errorf("sink calls = %d, want 3", got)
	}
	if n := b.Size(ctx); n != 0 {
		t.Errorf("Size() = %d, want 0", n)
	}
}

func TestConsumerBackoffDefersRetry(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	sp := &recordingSpeaker{}

	m := NewMessage(KindSpeak, "retry later")
	m.RecordFailure(time.Now())
	b.Enqueue(ctx, m)

	c := newTestConsumer(b, sp, ConsumerConfig{Backoff: Backoff{0, 300 * time.Millisecond}})
	_ = c.Start(ctx)
	defer c.Stop(true, 2*time.Second)

	time.Sleep(150 * time.Millisecond)
	if got := len(sp.Calls()); got != 0 {
		t.Fatalf("sink called %d times before the backoff elapsed", got)
	}
	if n := b.Size(ctx); n != 1 {
		t.Errorf("Size() during backoff = %d, want 1", n)
	}
	waitFor(t, 3*time.Second, func() bool { return len(sp.Calls()) == 1 })
}

func TestConsumerReadyWorkNotBlockedByRetry(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	sp := &recordingSpeaker{}

	stuck := &Message{Kind: KindApproval, Text: "stuck", Priority: PriorityApproval}
	stuck.normalize(time.Now())
	stuck.RecordFailure(time.Now())
	b.Enqueue(ctx, stuck)
	b.Enqueue(ctx, NewMessage(KindSpeak, "ready"))

	c := newTestConsumer(b, sp, ConsumerConfig{Backoff: Backoff{0, 10 * time.Second}})
	_ = c.Start(ctx)
	defer c.Stop(true, 2*time.Second)

	waitFor(t, 3*time.Second, func() bool { return len(sp.Calls()) == 1 })
	if got := sp.Calls()[0].text; got != "ready" {
		t.Errorf("first delivery = %q, want %q", got, "ready")
	}
}

func TestConsumerShutdownSkipsBacklog(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	p := NewProducer(b, quietLogger())
	sp := &recordingSpeaker{}

	p.Speak(ctx, "one", SpeakOptions{})
	p.Speak(ctx, "two", SpeakOptions{})
	p.Approval(ctx, "three", "", "")
	b.SendShutdown(ctx)

	c := newTestConsumer(b, sp, ConsumerConfig{})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after shutdown")
	}

	if got := len(sp.Calls()); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
	if n := b.Size(ctx); n != 3 {
		t.Errorf("Size() = %d, want the 3 backlog messages kept", n)
	}
}

func TestConsumerNilSpeakerDrops(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	b.Enqueue(ctx, NewMessage(KindSpeak, "nobody listening"))

	c := newTestConsumer(b, nil, ConsumerConfig{})
	_ = c.Start(ctx)
	waitFor(t, 3*time.Second, func() bool { return c.Stats().Dropped == 1 })
	c.Stop(true, 2*time.Second)

	if n := b.Size(ctx); n != 0 {
		t.Errorf("Size() = %d, want 0", n)
	}
	if st := c.Stats(); st.Retried != 0 {
		t.Errorf("Stats().Retried = %d, want 0", st.Retried)
	}
}

func TestConsumerMinSpacing(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	sp := &recordingSpeaker{}
	spacing := 200 * time.Millisecond

	b.Enqueue(ctx, NewMessage(KindSpeak, "first"))
	b.Enqueue(ctx, NewMessage(KindSpeak, "second"))

	c := newTestConsumer(b, sp, ConsumerConfig{MinSpacing: spacing})
	_ = c.Start(ctx)
	waitFor(t, 3*time.Second, func() bool { return len(sp.Calls()) == 2 })
	c.Stop(true, 2*time.Second)

	calls := sp.Calls()
	if gap := calls[1].at.Sub(calls[0].at); gap < spacing {
		t.Errorf("gap between deliveries = %v, want at least %v", gap, spacing)
	}
}

func TestConsumerContextCancel(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	c := newTestConsumer(b, &recordingSpeaker{}, ConsumerConfig{})
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx); err != ErrConsumerRunning {
		t.Errorf("second Start() = %v, want ErrConsumerRunning", err)
	}

	cancel()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on cancellation")
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}

func TestConsumerOnProcessed(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	seen := make(chan string, 1)

	b.Enqueue(ctx, NewMessage(KindCompletion, "hooked"))
	c := newTestConsumer(b, &recordingSpeaker{}, ConsumerConfig{
		OnProcessed: func(m *Message) { seen <- m.Text },
	})
	_ = c.Start(ctx)
	defer c.Stop(true, 2*time.Second)

	select {
	case got := <-seen:
		if got != "hooked" {
			t.Errorf("OnProcessed got %q, want %q", got, "hooked")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnProcessed not called")
	}
}

func TestConsumerStopWhenStopped(t *testing.T) {
	c := newTestConsumer(newTestBroker(t), nil, ConsumerConfig{})
	if !c.Stop(true, time.Second) {
		t.Error("Stop() on a never-started consumer = false, want true")
	}
}
