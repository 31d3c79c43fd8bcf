package queue

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"speak", KindSpeak, false},
		{"Greeting", KindGreeting, false},
		{" completion ", KindCompletion, false},
		{"error", KindError, false},
		{"approval", KindApproval, false},
		{"shutdown", KindShutdown, false},
		{"whisper", KindSpeak, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownKind) {
				t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestKindDefaultPriority(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindSpeak, 5},
		{KindCompletion, 7},
		{KindGreeting, 8},
		{KindError, 9},
		{KindApproval, 10},
		{KindShutdown, PriorityShutdown},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.DefaultPriority(); got != tt.want {
				t.Errorf("DefaultPriority() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewMessageDefaults(t *testing.T) {
	m := NewMessage(KindSpeak, "hello")
	if m.ID == "" {
		t.Error("ID is empty")
	}
	if m.Voice != DefaultVoice {
		t.Errorf("Voice = %q, want %q", m.Voice, DefaultVoice)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if m.RetryCount() != 0 {
		t.Errorf("RetryCount() = %d, want 0", m.RetryCount())
	}
	if _, ok := m.LastRetryTime(); ok {
		t.Error("LastRetryTime() reported a time for a fresh message")
	}
}

func TestRecordFailure(t *testing.T) {
	m := NewMessage(KindSpeak, "hello")
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)

	m.RecordFailure(at)
	m.RecordFailure(at.Add(time.Second))

	if got := m.RetryCount(); got != 2 {
		t.Errorf("RetryCount() = %d, want 2", got)
	}
	last, ok := m.LastRetryTime()
	if !ok || !last.Equal(at.Add(time.Second)) {
		t.Errorf("LastRetryTime() = %v, %v, want %v", last, ok, at.Add(time.Second))
	}
}

func TestRetryCountDecodedForms(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{"int", 2, 2},
		{"int64", int64(3), 3},
		{"uint64", uint64(4), 4},
		{"float64", float64(5), 5},
		{"missing", nil, 0},
		{"string", "7", 0},
		{"negative", int64(-1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Metadata: map[string]any{}}
			if tt.v != nil {
				m.Metadata[MetaRetryCount] = tt.v
			}
			if got := m.RetryCount(); got != tt.want {
				t.Errorf("RetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 5 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := DefaultBackoff.Delay(tt.retries); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}

	if got := (Backoff{}).Delay(3); got != 0 {
		t.Errorf("empty Backoff.Delay(3) = %v, want 0", got)
	}
}

func TestScaledBackoff(t *testing.T) {
	if got := ScaledBackoff(500 * time.Millisecond); !slices.Equal(got, DefaultBackoff) {
		t.Errorf("ScaledBackoff(500ms) = %v, want %v", got, DefaultBackoff)
	}
	if got := ScaledBackoff(0); !slices.Equal(got, DefaultBackoff) {
		t.Errorf("ScaledBackoff(0) = %v, want %v", got, DefaultBackoff)
	}

	got := ScaledBackoff(time.Second)
	want := Backoff{0, time.Second, 2 * time.Second, 4 * time.Second, 10 * time.Second, 20 * time.Second}
	if !slices.Equal(got, want) {
		t.Errorf("ScaledBackoff(1s) = %v, want %v", got, want)
	}
}

func TestConsumerStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConsumerState
		want     bool
	}{
		{StateStopped, StateRunning, true},
		{StateStopped, StateStopping, false},
		{StateRunning, StateStopping, true},
		{StateRunning, StateRunning, false},
		{StateStopping, StateStopped, true},
		{StateStopping, StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
