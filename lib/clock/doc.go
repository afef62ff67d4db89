// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that timer-driven behavior can be
// tested deterministically.
//
// Code that schedules future work — sanction expiry, idle-session
// sweeps, sync retry backoff — accepts a Clock instead of calling the
// time package directly. Real() delegates to the standard library.
// Fake() returns a clock that stands still until the test advances it,
// which turns "wait and hope" timer tests into exact assertions.
//
// # Wiring
//
// Structs that need time carry a Clock field:
//
//	type Scheduler struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// Production wiring uses clock.Real(). Tests construct a FakeClock at
// a fixed instant and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
//	s := newScheduler(c)
//	// ... scheduler goroutine arms a timer ...
//	c.WaitForTimers(1)
//	c.Advance(30 * time.Minute)
//
// WaitForTimers closes the race between a goroutine registering its
// timer and the test advancing past the deadline: Advance only fires
// waiters that are already registered, so the test must observe the
// registration first.
package clock
