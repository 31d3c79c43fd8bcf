package queue

import "time"

// Backoff maps a retry count to the minimum delay since the last failed
// attempt before the envelope may be tried again. Counts past the end of
// the table use the last entry.
type Backoff []time.Duration

// DefaultBackoff is 0, 0.5s, 1s, 2s, 5s, then 10s for every later retry.
var DefaultBackoff = Backoff{
	0,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Delay returns the wait required before attempt number retryCount+1.
func (b Backoff) Delay(retryCount int) time.Duration {
	if len(b) == 0 || retryCount <= 0 {
		return 0
	}
	if retryCount >= len(b) {
		return b[len(b)-1]
	}
	return b[retryCount]
}

// ScaledBackoff stretches DefaultBackoff so that its first non-zero step
// equals base. A base of 500ms yields DefaultBackoff itself.
func ScaledBackoff(base time.Duration) Backoff {
	if base <= 0 {
		return DefaultBackoff
	}
	ref := DefaultBackoff[1]
	b := make(Backoff, len(DefaultBackoff))
	for i, d := range DefaultBackoff {
		b[i] = time.Duration(int64(d) * int64(base) / int64(ref))
	}
	return b
}
