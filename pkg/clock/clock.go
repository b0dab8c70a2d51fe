// Package clock is the time seam for the waiting room.
//
// Production code takes a Clock and uses Real(); tests use Fake() and move
// time forward with Advance, which fires scheduled callbacks in deadline
// order on the calling goroutine.
package clock

import "time"

// Clock supplies the current time and schedules deferred work
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer can cancel it.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call
type Timer struct {
	stop func() bool
}

// Stop cancels the call. Reports false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns the wall clock
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
