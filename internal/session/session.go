// Package session assigns each concurrent session its own voice so that
// parallel sessions can be told apart by ear.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/voiceq/internal/statefile"
)

// Voices is the default voice pool, in assignment order.
var Voices = []string{"nova", "alloy", "echo", "fable", "onyx", "shimmer"}

// DefaultExpiry is how long an idle session keeps its voice.
const DefaultExpiry = 4 * time.Hour

// Record is a session's voice assignment.
type Record struct {
	Voice     string    `json:"voice"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Session is a Record with its ID, as returned by Active.
type Session struct {
	ID string
	Record
}

type table struct {
	Sessions  map[string]Record `json:"sessions"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Config configures a Registry.
type Config struct {
	// Path is the JSON table shared by every process. Empty keeps the
	// table in memory.
	Path string

	// Expiry is the idle time after which a session loses its voice.
	Expiry time.Duration

	// Voices overrides the voice pool.
	Voices []string

	Logger *log.Logger
	Now    func() time.Time
}

// Registry maps session IDs to voices. The table is re-read under a file
// lock on every call, so several processes can share it.
type Registry struct {
	path   string
	expiry time.Duration
	voices []string
	logger *log.Logger
	now    func() time.Time

	mu  sync.Mutex
	mem table
}

// New returns a Registry for cfg.
func New(cfg Config) *Registry {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = Voices
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		path:   cfg.Path,
		expiry: cfg.Expiry,
		voices: cfg.Voices,
		logger: cfg.Logger,
		now:    cfg.Now,
		mem:    table{Sessions: make(map[string]Record)},
	}
}

// update runs fn against the current table and persists the result.
func (r *Registry) update(fn func(t *table) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		if err := fn(&r.mem); err != nil && !errors.Is(err, statefile.ErrSkipWrite) {
			return err
		}
		return nil
	}

	var t table
	err := statefile.Update(context.Background(), r.path, &t, func() error {
		if t.Sessions == nil {
			t.Sessions = make(map[string]Record)
		}
		if err := fn(&t); err != nil {
			return err
		}
		t.UpdatedAt = r.now()
		return nil
	})
	if err != nil && !errors.Is(err, statefile.ErrSkipWrite) {
		return err
	}
	return nil
}

// expire drops sessions idle longer than the expiry and returns how many
// were removed.
func (r *Registry) expire(t *table) int {
	now := r.now()
	n := 0
	for id, rec := range t.Sessions {
		if now.Sub(rec.LastUsed) > r.expiry {
			delete(t.Sessions, id)
			n++
		}
	}
	return n
}

// VoiceFor returns the voice of sessionID, assigning one on first use.
// An existing assignment is kept and its last use refreshed. A new
// session gets preferred if no active session uses it, otherwise the
// first unused pool voice, otherwise the voice of the least recently
// used session. An empty sessionID gets preferred, or the first pool
// voice, and is not recorded.
func (r *Registry) VoiceFor(sessionID, preferred string) string {
	if sessionID == "" {
		if preferred != "" {
			return preferred
		}
		return r.voices[0]
	}

	var voice string
	err := r.update(func(t *table) error {
		r.expire(t)
		now := r.now()

		if rec, ok := t.Sessions[sessionID]; ok {
			rec.LastUsed = now
			t.Sessions[sessionID] = rec
			voice = rec.Voice
			return nil
		}

		voice = r.pick(t, preferred)
		t.Sessions[sessionID] = Record{Voice: voice, CreatedAt: now, LastUsed: now}
		r.logger.Info("assigned session voice", "session", shortID(sessionID), "voice", voice)
		return nil
	})
	if err != nil {
		r.logger.Warn("session table unavailable, using preferred voice", "err", err)
		if preferred != "" {
			return preferred
		}
		return r.voices[0]
	}
	return voice
}

func (r *Registry) pick(t *table, preferred string) string {
	used := make(map[string]bool, len(t.Sessions))
	for _, rec := range t.Sessions {
		used[rec.Voice] = true
	}

	if preferred != "" && !used[preferred] {
		return preferred
	}
	for _, v := range r.voices {
		if !used[v] {
			return v
		}
	}

	var (
		oldest Record
		found  bool
	)
	for _, rec := range t.Sessions {
		if !found || rec.LastUsed.Before(oldest.LastUsed) {
			oldest, found = rec, true
		}
	}
	if found {
		return oldest.Voice
	}
	if preferred != "" {
		return preferred
	}
	return r.voices[0]
}

// Sweep removes expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	var n int
	err := r.update(func(t *table) error {
		n = r.expire(t)
		if n == 0 {
			return statefile.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to sweep sessions", "err", err)
		return 0
	}
	if n > 0 {
		r.logger.Debug("cleaned up expired sessions", "count", n)
	}
	return n
}

// StartSweeper sweeps every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Active returns the unexpired sessions, most recently used first.
func (r *Registry) Active() []Session {
	var out []Session
	err := r.update(func(t *table) error {
		removed := r.expire(t)
		for id, rec := range t.Sessions {
			out = append(out, Session{ID: id, Record: rec})
		}
		if removed == 0 {
			return statefile.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to read sessions", "err", err)
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out
}

// Clear forgets one session and reports whether it existed.
func (r *Registry) Clear(sessionID string) bool {
	var found bool
	err := r.update(func(t *table) error {
		if _, found = t.Sessions[sessionID]; !found {
			return statefile.ErrSkipWrite
		}
		delete(t.Sessions, sessionID)
		return nil
	})
	return err == nil && found
}

// ClearAll forgets every session.
func (r *Registry) ClearAll() error {
	err := r.update(func(t *table) error {
		t.Sessions = make(map[string]Record)
		return nil
	})
	if err == nil {
		r.logger.Info("cleared all session voice mappings")
	}
	return err
}

// Path returns the table path, empty for in-memory registries.
func (r *Registry) Path() string { return r.path }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
