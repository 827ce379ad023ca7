// Package mutex provides an eventually fair mutex that can be acquired both by
// goroutines that block and by cooperative tasks that suspend.
//
// # Quick Start
//
//	m := mutex.New(0)
//
//	g, err := m.Lock(ctx)
//	if err != nil {
//		return err // ctx ended before the lock was granted
//	}
//	*g.Value()++
//	g.Unlock()
//
// The scope-bound form releases the lock even if f panics:
//
//	err := m.Do(ctx, func(v *int) { *v++ })
//
// # Eventual Fairness
//
// Uncontended acquisition is a single compare-and-swap. Under contention,
// waiters first race for the lock each time it is released ("racy" mode):
// there is no ordering, but throughput is high. A waiter that has been pending
// for longer than the starvation threshold (500µs by default) escalates into
// "fair" mode. From then on the lock can only be taken by escalated waiters,
// in queue order, so no newcomer can overtake it.
//
// # State Word
//
// All of this is encoded in one atomic word:
//
//	bit 0      locked
//	bits 1..   number of escalated (starved) lock operations, stepped by 2
//
//	0 unlocked         1 locked
//	2 unlocked, 1 fair 3 locked, 1 fair
//
// # Drivers
//
// A lock operation is a resumable state machine ([LockOp], [SharedLockOp]).
// It can be driven two ways:
//
//   - Blocking: [Mutex.Lock], [LockOp.Wait]. The goroutine parks until the
//     lock is granted or the context ends.
//   - Cooperative: [LockOp.Poll]. The operation never parks; it returns
//     "pending" and calls the supplied wake function when it should be polled
//     again. The coop package provides an executor that drives such
//     operations on a bounded worker pool.
//
// Blocking calls must not be made from inside a cooperative executor's task:
// a parked worker may be the one the lock holder needs to make progress.
//
// # Cancellation
//
// A lock operation can be abandoned at any point with [LockOp.Close] (or by
// letting the context of a blocking call end). Abandoning never leaks an
// escalated waiter and never loses a wake-up meant for the remaining waiters.
//
// # Shared Ownership
//
// [Shared] is a reference-counted handle to a Mutex. Guards obtained through a
// handle hold their own reference, so they can be passed to other goroutines
// independently of the handle that created them.
package mutex
