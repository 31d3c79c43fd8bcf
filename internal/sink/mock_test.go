package sink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	_ = m.Speak(ctx, "one", "nova")
	_ = m.Speak(ctx, "two", "echo")

	calls := m.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls() len = %d, want 2", len(calls))
	}
	if calls[1].Text != "two" || calls[1].Voice != "echo" {
		t.Errorf("Calls()[1] = %+v", calls[1])
	}

	m.Reset()
	if m.Count() != 0 {
		t.Errorf("Count() after Reset = %d, want 0", m.Count())
	}
}

func TestMockFailNext(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(2, boom)
	for i, want := range []error{boom, boom, nil} {
		if err := m.Speak(ctx, "x", "nova"); !errors.Is(err, want) {
			t.Errorf("call %d error = %v, want %v", i, err, want)
		}
	}

	m.FailNext(-1, boom)
	for i := 0; i < 5; i++ {
		if err := m.Speak(ctx, "x", "nova"); err == nil {
			t.Fatalf("call %d succeeded, want every call to fail", i)
		}
	}
}

func TestMockDelayHonoursContext(t *testing.T) {
	m := NewMock()
	m.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := m.Speak(ctx, "slow", "nova"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Speak() error = %v, want deadline exceeded", err)
	}
}

func TestFuncAdapter(t *testing.T) {
	var got string
	var s Sink = Func(func(_ context.Context, text, _ string) error {
		got = text
		return nil
	})
	_ = s.Speak(context.Background(), "adapted", "nova")
	if got != "adapted" {
		t.Errorf("Func received %q, want %q", got, "adapted")
	}
}
