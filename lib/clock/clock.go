// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that muster code schedules
// against. Real() implements it with the standard library; Fake()
// implements it deterministically for tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d. The returned Timer's C
	// field is nil; use Stop and Reset to manage the callback.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
}

// Timer wraps a pending AfterFunc registration so real and fake
// clocks expose the same Stop/Reset surface.
type Timer struct {
	// C is nil for AfterFunc timers, mirroring time.AfterFunc.
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop cancels the timer. It reports whether the call stopped a timer
// that had not yet fired.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset re-arms the timer to fire after d, reporting whether the
// timer was active (pending, not fired or stopped) when Reset was
// called. A fired or stopped timer is revived.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Ticker delivers ticks on C at a fixed interval until stopped.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

// Stop turns off the ticker. No more ticks are delivered; C is not
// closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Reset changes the interval and restarts the ticker from now.
func (t *Ticker) Reset(d time.Duration) { t.resetFunc(d) }
