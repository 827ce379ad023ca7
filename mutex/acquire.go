package mutex

import (
	"time"

	"github.com/jothan/async-lock/internal/event"
	"github.com/jothan/async-lock/internal/strategy"
)

// mutexRef is how a lock operation refers to its mutex.
//
// *Mutex is a plain back-reference used by borrowing guards. *Shared is a
// reference-counted handle used by shared guards. The acquisition algorithm
// only needs to reach the Mutex, so it is written once over both.
type mutexRef[T any] interface {
	borrow() *Mutex[T]
}

// acquireSlow is the contended acquisition state machine.
//
// It is only built after the fast path failed. The machine moves through
//
//	racy (unregistered <-> registered) -> escalate ->
//	fair (unregistered <-> registered) -> done
//
// and is resumable: every suspension point returns to the driver, which
// calls poll again once the listener fires. It may be abandoned at any of
// those points with close.
//
// Invariant: once starved is set, exactly one compensating decrement of the
// starved count happens, in takeRef, whether the operation succeeds or is
// abandoned.
type acquireSlow[T any, R mutexRef[T]] struct {
	// ref is the mutex reference, valid while held is true.
	ref  R
	held bool

	// listener is the active registration on the mutex's lockOps, if any.
	listener *event.Listener

	// start is when this operation started waiting. It is only meaningful
	// when timed is true, i.e. a clock was available at the first poll.
	start   time.Duration
	timed   bool
	started bool

	// starved is set once this operation escalated into fair mode.
	starved bool
}

func newAcquireSlow[T any, R mutexRef[T]](ref R) *acquireSlow[T, R] {
	return &acquireSlow[T, R]{ref: ref, held: true}
}

// takeRef moves the mutex reference out of the state machine, decrementing
// the starved count if this operation had escalated.
//
// It runs exactly once per operation: on success from finish, on
// cancellation from close. Later calls report false.
func (a *acquireSlow[T, R]) takeRef() (R, bool) {
	var zero R
	if !a.held {
		return zero, false
	}

	ref := a.ref
	a.ref = zero
	a.held = false

	if a.starved {
		ref.borrow().state.Add(^uint64(starvedStep - 1))
	}
	return ref, true
}

// finish completes a successful acquisition.
func (a *acquireSlow[T, R]) finish() R {
	ref, _ := a.takeRef()

	// The registration may still be live when the lock was won right after
	// Listen. Dropping it forwards any notification it picked up meanwhile.
	if a.listener != nil {
		a.listener.Discard()
		a.listener = nil
	}
	return ref
}

// close abandons the operation and hands back the reference if it was still
// held. It is safe to call at any point, and more than once.
func (a *acquireSlow[T, R]) close() (R, bool) {
	ref, ok := a.takeRef()

	if a.listener != nil {
		a.listener.Discard()
		a.listener = nil
	}
	return ref, ok
}

// poll drives the state machine as far as it can go without waiting.
//
// It returns the mutex reference and true once the lock is held. It returns
// false when st could not complete a wait: for a non-blocking strategy the
// operation is suspended and will be woken, for a blocking strategy its
// context ended.
//
// Polling after completion or close panics.
func (a *acquireSlow[T, R]) poll(st strategy.Strategy) (R, bool) {
	var zero R
	if !a.held {
		panic("mutex: lock operation polled after completion")
	}

	m := a.ref.borrow()
	if !a.started {
		a.start, a.timed = m.now()
		a.started = true
	}

	// Racy loop, only while this operation is not starved.
	if !a.starved {
	racy:
		for {
			if a.listener == nil {
				// Register before looking at the state so that an unlock
				// landing between the check and the wait is not missed.
				a.listener = m.lockOps.Listen()

				switch m.compareExchange(0, stateLocked) {
				case 0:
					return a.finish(), true
				case stateLocked:
					// Held, nobody starved: go wait.
				default:
					// Somebody is starved; stop competing with them.
					break racy
				}
			} else {
				if !st.Poll(a.listener) {
					return zero, false
				}
				a.listener = nil

				switch m.compareExchange(0, stateLocked) {
				case 0:
					return a.finish(), true
				case stateLocked:
				default:
					// The notification was most likely meant for a starved
					// operation; pass it on before joining the queue.
					m.lockOps.Notify(1)
					break racy
				}

				if a.timed {
					if now, ok := m.now(); ok && now-a.start > m.starvationThreshold() {
						break racy
					}
				}
			}
		}

		if m.state.Add(starvedStep)-starvedStep > starvedLimit {
			abort("starved lock operation count overflow")
		}
		a.starved = true
	}

	// Fair loop.
	for {
		if a.listener == nil {
			a.listener = m.lockOps.Listen()

			// Only take the lock if ours is the sole starved operation.
			switch s := m.compareExchange(fairUnlocked, fairUnlocked|stateLocked); {
			case s == fairUnlocked:
				return a.finish(), true
			case s&stateLocked != 0:
				// Held by someone: wait in line.
			default:
				// Free, but other starved operations are queued. Pass the
				// baton to the head of the queue and wait our turn.
				m.lockOps.Notify(1)
			}
		} else {
			if !st.Poll(a.listener) {
				return zero, false
			}
			a.listener = nil

			// Woken in fair mode: take the lock if it is free, regardless of
			// the starved count.
			if m.state.Or(stateLocked)&stateLocked == 0 {
				return a.finish(), true
			}
		}
	}
}
