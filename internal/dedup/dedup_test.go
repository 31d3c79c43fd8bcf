package dedup

import (
	"path/filepath"
	"testing"
	"time"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)}
}

type step struct {
	advance time.Duration
	text    string
	want    bool
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "repeat within window",
			steps: []step{
				{0, "tests passed", false},
				{time.Second, "tests passed", true},
				{4*time.Second - time.Millisecond, "tests passed", true},
			},
		},
		{
			name: "repeat after window",
			steps: []step{
				{0, "tests passed", false},
				{5 * time.Second, "tests passed", false},
				{time.Second, "tests passed", true},
			},
		},
		{
			name: "earlier text still in window",
			steps: []step{
				{0, "alpha", false},
				{time.Second, "beta", false},
				{time.Second, "alpha", true},
			},
		},
		{
			name: "empty text",
			steps: []step{
				{0, "", false},
				{0, "", false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, persisted := range []bool{false, true} {
				c := newClock()
				var d *Deduplicator
				if persisted {
					d = Open(filepath.Join(t.TempDir(), "dedup.json"), DefaultWindow, nil)
				} else {
					d = New(0)
				}
				d.SetClock(c.Now)

				for i, s := range tt.steps {
					c.Advance(s.advance)
					if got := d.IsDuplicate(s.text); got != s.want {
						t.Errorf("persisted=%v step %d: IsDuplicate(%q) = %v, want %v", persisted, i, s.text, got, s.want)
					}
				}
			}
		})
	}
}

func TestClear(t *testing.T) {
	d := Open(filepath.Join(t.TempDir(), "dedup.json"), time.Minute, nil)

	d.IsDuplicate("build done")
	d.Clear()
	if d.IsDuplicate("build done") {
		t.Error("IsDuplicate() after Clear = true, want false")
	}
}

func TestSharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.json")
	a := Open(path, time.Minute, nil)
	b := Open(path, time.Minute, nil)

	if a.IsDuplicate("deploy started") {
		t.Fatal("first announcement reported as duplicate")
	}
	if !b.IsDuplicate("deploy started") {
		t.Error("second instance did not see the first instance's announcement")
	}
}

func TestForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.json")
	a := Open(path, time.Minute, nil)
	b := Open(path, time.Minute, nil)

	a.IsDuplicate("tests passed")
	a.IsDuplicate("lint clean")
	a.Forget("tests passed")

	if b.IsDuplicate("tests passed") {
		t.Error("IsDuplicate() after Forget = true, want false")
	}
	if !b.IsDuplicate("lint clean") {
		t.Error("Forget dropped an unrelated text")
	}
}
