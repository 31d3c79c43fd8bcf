// Package dedup suppresses repeated announcements of the same text within
// a short window.
package dedup

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/statefile"
	"github.com/zeebo/blake3"
)

// DefaultWindow is how long a text counts as recently announced.
const DefaultWindow = 5 * time.Second

type entry struct {
	Hash string    `json:"hash"`
	At   time.Time `json:"at"`
}

type cache struct {
	Entries  []entry   `json:"entries"`
	LastText string    `json:"last_text"`
	LastAt   time.Time `json:"last_at"`
}

// Deduplicator remembers recently announced texts. The zero window uses
// DefaultWindow.
type Deduplicator struct {
	window time.Duration
	path   string
	now    func() time.Time
	logger *log.Logger

	mu    sync.Mutex
	state cache
}

// New returns an in-process deduplicator.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{window: window, now: time.Now, logger: log.Default()}
}

// Open returns a deduplicator whose memory is the JSON file at path, so
// short-lived callers see each other's announcements.
func Open(path string, window time.Duration, logger *log.Logger) *Deduplicator {
	d := New(window)
	d.path = path
	if logger != nil {
		d.logger = logger
	}
	return d
}

// SetClock overrides the time source.
func (d *Deduplicator) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func hash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// check decides whether text was announced within the window and, if
// not, records it.
func (d *Deduplicator) check(c *cache, text string) bool {
	now := d.now()

	if text == c.LastText && now.Sub(c.LastAt) < d.window {
		return true
	}

	kept := c.Entries[:0]
	for _, e := range c.Entries {
		if now.Sub(e.At) < d.window {
			kept = append(kept, e)
		}
	}
	c.Entries = kept

	h := hash(text)
	for _, e := range c.Entries {
		if e.Hash == h {
			return true
		}
	}

	c.Entries = append(c.Entries, entry{Hash: h, At: now})
	c.LastText = text
	c.LastAt = now
	return false
}

// IsDuplicate reports whether text was already announced within the
// window, and records it when it was not. Empty text is never a
// duplicate.
func (d *Deduplicator) IsDuplicate(text string) bool {
	if text == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.path == "" {
		return d.check(&d.state, text)
	}

	var (
		c   cache
		dup bool
	)
	err := statefile.Update(context.Background(), d.path, &c, func() error {
		dup = d.check(&c, text)
		if dup {
			return statefile.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("dedup cache unavailable, checking in memory", "err", err)
		return d.check(&d.state, text)
	}
	return dup
}

// Clear forgets every recorded announcement.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = cache{}
	if d.path != "" {
		var c cache
		err := statefile.Update(context.Background(), d.path, &c, func() error {
			c = cache{}
			return nil
		})
		if err != nil {
			d.logger.Warn("failed to clear dedup cache", "err", err)
		}
	}
}

func (d *Deduplicator) forget(c *cache, text string) {
	h := hash(text)
	kept := c.Entries[:0]
	for _, e := range c.Entries {
		if e.Hash != h {
			kept = append(kept, e)
		}
	}
	c.Entries = kept
	if c.LastText == text {
		c.LastText = ""
		c.LastAt = time.Time{}
	}
}

// Forget drops text from the window, so a caller whose announcement was
// never queued can retry it without being suppressed.
func (d *Deduplicator) Forget(text string) {
	if text == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.forget(&d.state, text)
	if d.path == "" {
		return
	}
	var c cache
	err := statefile.Update(context.Background(), d.path, &c, func() error {
		d.forget(&c, text)
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to update dedup cache", "err", err)
	}
}
