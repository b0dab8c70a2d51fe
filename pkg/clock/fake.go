package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance or Set is called
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	due  time.Time
	f    func()
	done bool
}

// Fake returns a FakeClock frozen at start
func Fake(start time.Time) *FakeClock { return &FakeClock{now: start} }

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock passes now+d.
// A non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	ft := &fakeTimer{due: c.now.Add(d), f: f}
	c.pending = append(c.pending, ft)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		c.dropLocked(ft)
		return true
	}}
}

// Advance moves time forward by d and runs every callback that fell due,
// earliest first. Callbacks may schedule more work; anything due by the
// new time also runs before Advance returns.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set jumps to t, firing due callbacks like Advance. Setting an earlier
// time is allowed and fires nothing.
func (c *FakeClock) Set(t time.Time) {
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, ft := range c.pending {
			if !ft.due.After(t) && (next == nil || ft.due.Before(next.due)) {
				next = ft
			}
		}
		if next == nil {
			c.now = t
			c.mu.Unlock()
			return
		}
		if next.due.After(c.now) {
			c.now = next.due
		}
		next.done = true
		c.dropLocked(next)
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the deadlines of callbacks not yet fired, earliest first
func (c *FakeClock) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, 0, len(c.pending))
	for _, ft := range c.pending {
		out = append(out, ft.due)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (c *FakeClock) dropLocked(ft *fakeTimer) {
	for i, p := range c.pending {
		if p == ft {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
