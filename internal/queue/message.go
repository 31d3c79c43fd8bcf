package queue

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates envelopes.
type Kind uint8

const (
	// KindSpeak is a plain notification.
	KindSpeak Kind = iota
	// KindGreeting announces the start of a session.
	KindGreeting
	// KindCompletion announces finished work.
	KindCompletion
	// KindError announces a failure.
	KindError
	// KindApproval asks the user for a decision.
	KindApproval
	// KindShutdown is the sentinel that stops the consumer loop. It
	// carries no text and is never spoken.
	KindShutdown
)

var kindNames = map[Kind]string{
	KindSpeak:      "speak",
	KindGreeting:   "greeting",
	KindCompletion: "completion",
	KindError:      "error",
	KindApproval:   "approval",
	KindShutdown:   "shutdown",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindSpeak, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Priorities per kind. Higher is delivered first.
const (
	PrioritySpeak      = 5
	PriorityCompletion = 7
	PriorityGreeting   = 8
	PriorityError      = 9
	PriorityApproval   = 10
	PriorityShutdown   = math.MaxInt32
)

// DefaultPriority returns the priority a kind is enqueued with when the
// caller does not choose one.
func (k Kind) DefaultPriority() int {
	switch k {
	case KindGreeting:
		return PriorityGreeting
	case KindCompletion:
		return PriorityCompletion
	case KindError:
		return PriorityError
	case KindApproval:
		return PriorityApproval
	case KindShutdown:
		return PriorityShutdown
	default:
		return PrioritySpeak
	}
}

// DefaultVoice is used when an envelope is enqueued without a voice.
const DefaultVoice = "nova"

// Reserved metadata keys.
const (
	MetaRetryCount    = "retry_count"
	MetaLastRetryTime = "last_retry_time"
)

// Message is the unit of work carried through the queue.
type Message struct {
	ID        string         `cbor:"id"`
	Kind      Kind           `cbor:"kind"`
	Text      string         `cbor:"text"`
	Voice     string         `cbor:"voice"`
	SessionID string         `cbor:"session_id,omitempty"`
	Priority  int            `cbor:"priority"`
	CreatedAt time.Time      `cbor:"created_at"`
	Metadata  map[string]any `cbor:"metadata,omitempty"`

	// rowID is assigned by the store on dequeue and identifies the row
	// that Ack and Nack operate on.
	rowID int64
}

// NewMessage returns a message of the given kind with an ID, creation
// time, default voice and the kind's default priority filled in.
func NewMessage(kind Kind, text string) *Message {
	m := &Message{Kind: kind, Text: text}
	m.normalize(time.Now())
	return m
}

func (m *Message) normalize(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Voice == "" && m.Kind != KindShutdown {
		m.Voice = DefaultVoice
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}

	// Text arrives from pipes and hooks with no encoding guarantee.
	m.Text = validUTF8(m.Text)
	m.Voice = validUTF8(m.Voice)
	m.SessionID = validUTF8(m.SessionID)
	for k, v := range m.Metadata {
		if str, ok := v.(string); ok {
			v = validUTF8(str)
		}
		if clean := validUTF8(k); clean != k {
			delete(m.Metadata, k)
			k = clean
		}
		m.Metadata[k] = v
	}
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// RetryCount returns how many failed delivery attempts have been recorded.
func (m *Message) RetryCount() int {
	n, _ := metaInt(m.Metadata[MetaRetryCount])
	if n < 0 {
		return 0
	}
	return int(n)
}

// LastRetryTime returns the time of the last failed attempt, if any.
func (m *Message) LastRetryTime() (time.Time, bool) {
	n, ok := metaInt(m.Metadata[MetaLastRetryTime])
	if !ok || n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// RecordFailure increments the retry count and stamps the failure time.
func (m *Message) RecordFailure(at time.Time) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[MetaRetryCount] = int64(m.RetryCount() + 1)
	m.Metadata[MetaLastRetryTime] = at.UnixNano()
}

// IsShutdown reports whether m is the shutdown sentinel.
func (m *Message) IsShutdown() bool { return m.Kind == KindShutdown }

// metaInt normalizes the integer forms a decoded metadata value can take.
func metaInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
