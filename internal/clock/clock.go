// Package clock provides the monotonic time source used to decide when a
// waiting lock operation has been starved long enough to switch to fair mode.
//
// Timing is optional. A Clock that reports ok=false from Now disables
// time-based escalation entirely; lock operations then only escalate when
// they observe that another operation already did.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock reads a monotonic timestamp.
type Clock interface {
	// Now returns the time elapsed since an arbitrary fixed origin.
	// ok is false when no clock is available on this host.
	Now() (now time.Duration, ok bool)
}

// Monotonic is the host's monotonic clock.
//
// On linux it reads CLOCK_MONOTONIC directly; elsewhere it falls back to the
// monotonic reading embedded in time.Time.
var Monotonic Clock = monotonic{}

// None is a Clock that is never available.
var None Clock = none{}

type none struct{}

func (none) Now() (time.Duration, bool) {
	return 0, false
}

// processStart anchors the time.Time based fallback.
var processStart = time.Now()

func sinceStart() time.Duration {
	return time.Since(processStart)
}

// Manual is a Clock whose time only moves when told to.
//
// It is used in tests to drive the starvation threshold deterministically.
// The zero value reads 0 and is available.
type Manual struct {
	now atomic.Int64
}

// Now implements Clock.
func (m *Manual) Now() (time.Duration, bool) {
	return time.Duration(m.now.Load()), true
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.now.Add(int64(d))
}

// Set moves the clock to d.
func (m *Manual) Set(d time.Duration) {
	m.now.Store(int64(d))
}
