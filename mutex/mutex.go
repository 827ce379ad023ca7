package mutex

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jothan/async-lock/internal/clock"
	"github.com/jothan/async-lock/internal/event"
)

// DefaultStarvationThreshold is how long a lock operation waits in racy mode
// before it escalates into fair mode.
const DefaultStarvationThreshold = 500 * time.Microsecond

// Clock reads a monotonic timestamp. See Options.Clock.
type Clock = clock.Clock

// NoClock is a Clock that is never available. Selecting it disables
// time-based escalation.
var NoClock Clock = clock.None

// Options configures a Mutex.
//
// The zero value selects the defaults.
type Options struct {
	// StarvationThreshold is how long a waiter races for the lock before
	// escalating into fair mode.
	// Default: DefaultStarvationThreshold.
	StarvationThreshold time.Duration

	// Clock measures how long a waiter has been pending. A clock that is not
	// available (NoClock) disables time-based escalation; waiters then
	// escalate only after observing an already escalated waiter.
	// Default: the host's monotonic clock.
	Clock clock.Clock
}

// Mutex is an eventually fair mutual exclusion lock protecting a value of
// type T.
//
// The zero value is an unlocked mutex holding the zero T, using the default
// options. A Mutex must not be copied after first use.
type Mutex[T any] struct {
	// state is the lock bit plus the escalated waiter count.
	// See State for the layout.
	state atomic.Uint64

	// lockOps holds lock operations waiting for the mutex to be released.
	lockOps event.Event

	opts Options

	// data is only reachable through a live guard, or through GetMut and
	// IntoInner when the caller owns the mutex exclusively.
	data T
}

// New creates an unlocked mutex holding v.
//
// Example:
//
//	m := mutex.New(10)
func New[T any](v T) *Mutex[T] {
	return &Mutex[T]{data: v}
}

// NewWithOptions creates an unlocked mutex holding v with custom options.
//
// Example:
//
//	m := mutex.NewWithOptions(0, mutex.Options{
//	    StarvationThreshold: time.Millisecond,
//	})
func NewWithOptions[T any](v T, opts Options) *Mutex[T] {
	return &Mutex[T]{data: v, opts: opts}
}

// IntoInner consumes the mutex and returns the protected value.
//
// The caller must own the mutex exclusively: no guard may be alive and no
// lock operation may be pending, and the mutex must not be used afterwards.
// IntoInner panics if it finds the mutex locked or an escalated lock operation
// still queued for it.
//
// Example:
//
//	m := mutex.New(10)
//	v := m.IntoInner() // v == 10
func (m *Mutex[T]) IntoInner() T {
	if m.State() != 0 {
		panic("mutex: IntoInner on a locked or awaited mutex")
	}
	return m.data
}

// GetMut returns a pointer to the protected value without locking.
//
// This is only valid while the caller owns the mutex exclusively, e.g. before
// it has been shared with other goroutines or after all of them have finished.
// GetMut panics if it finds the mutex locked or an escalated lock operation
// still queued for it. For handles that are shared
// through reference counting, use Shared.GetMut, which checks ownership.
//
// Example:
//
//	m := mutex.New(0)
//	*m.GetMut() = 10
func (m *Mutex[T]) GetMut() *T {
	if m.State() != 0 {
		panic("mutex: GetMut on a locked or awaited mutex")
	}
	return &m.data
}

// TryLock attempts to acquire the mutex without waiting.
//
// It returns the guard and true on success, or nil and false if the mutex is
// locked or escalated waiters are queued for it.
//
// Example:
//
//	if g, ok := m.TryLock(); ok {
//	    defer g.Unlock()
//	    // ...
//	}
func (m *Mutex[T]) TryLock() (*Guard[T], bool) {
	if !m.tryLock() {
		return nil, false
	}
	return &Guard[T]{mu: m}, true
}

// Lock acquires the mutex, parking the calling goroutine until it is granted
// or ctx is done.
//
// The fast path is attempted before ctx is consulted, so Lock may succeed on
// an already canceled context if the mutex is free.
//
// Lock must not be called from a task running on a cooperative executor; use
// LockOp and Poll there.
//
// Example:
//
//	g, err := m.Lock(ctx)
//	if err != nil {
//	    return err
//	}
//	defer g.Unlock()
func (m *Mutex[T]) Lock(ctx context.Context) (*Guard[T], error) {
	op := LockOp[T]{mutex: m}
	return op.Wait(ctx)
}

// LockOp returns a lock operation that can be driven cooperatively with Poll
// or blocking with Wait.
//
// Nothing happens until the operation is first driven.
func (m *Mutex[T]) LockOp() *LockOp[T] {
	return &LockOp[T]{mutex: m}
}

// Do runs f with the mutex held and releases it when f returns or panics.
//
// Example:
//
//	err := m.Do(ctx, func(v *int) { *v++ })
func (m *Mutex[T]) Do(ctx context.Context, f func(v *T)) error {
	g, err := m.Lock(ctx)
	if err != nil {
		return fmt.Errorf("mutex: lock: %w", err)
	}
	defer g.Unlock()

	f(g.Value())
	return nil
}

// State returns a snapshot of the state word.
//
// The snapshot is for diagnostics only; it may be stale by the time it is
// inspected.
func (m *Mutex[T]) State() State {
	return State(m.state.Load())
}

// String renders the mutex for debugging.
//
// It shows the value if the mutex is unlocked and a placeholder if it is
// locked. String never waits for the lock.
func (m *Mutex[T]) String() string {
	g, ok := m.TryLock()
	if !ok {
		return "Mutex{data: <locked>}"
	}
	defer g.Unlock()

	return fmt.Sprintf("Mutex{data: %v}", m.data)
}

// borrow lets Mutex act as its own reference in the acquisition state
// machine.
func (m *Mutex[T]) borrow() *Mutex[T] {
	return m
}

// tryLock is the fast path: a single CAS from unlocked to locked.
func (m *Mutex[T]) tryLock() bool {
	return m.state.CompareAndSwap(0, stateLocked)
}

// unlock clears the lock bit and wakes one waiter.
//
// Only one waiter is woken to avoid a thundering herd; the woken waiter either
// takes the lock or passes the notification on.
//
// Caller must hold the lock.
func (m *Mutex[T]) unlock() {
	m.state.Add(^uint64(stateLocked - 1))
	m.lockOps.Notify(1)
}

// compareExchange atomically replaces old with new and returns the value it
// observed. The swap happened iff the returned value equals old.
func (m *Mutex[T]) compareExchange(old, new uint64) uint64 {
	for {
		if m.state.CompareAndSwap(old, new) {
			return old
		}
		// The CAS failed, so the word differed from old at that instant.
		// Report a value that is not old; if the word went back to old in the
		// meantime, try again instead of reporting a stale success.
		if cur := m.state.Load(); cur != old {
			return cur
		}
	}
}

// starvationThreshold returns the configured threshold or the default.
func (m *Mutex[T]) starvationThreshold() time.Duration {
	if m.opts.StarvationThreshold > 0 {
		return m.opts.StarvationThreshold
	}
	return DefaultStarvationThreshold
}

// now reads the configured clock.
func (m *Mutex[T]) now() (time.Duration, bool) {
	if m.opts.Clock == nil {
		return clock.Monotonic.Now()
	}
	return m.opts.Clock.Now()
}
