package mutex

import (
	"context"

	"github.com/jothan/async-lock/internal/strategy"
)

// LockOp is a pending acquisition of a Mutex that yields a borrowing Guard.
//
// A LockOp can be driven either way:
//
//   - Poll drives it cooperatively: it never parks the caller and reports
//     whether the lock was granted. While pending, wake is called once the
//     operation should be polled again.
//   - Wait drives it by parking the calling goroutine.
//
// The first drive attempts the fast path; the contended state machine is only
// built if that fails. A LockOp must be driven by one goroutine at a time and
// must not be driven again after it completed or was closed.
type LockOp[T any] struct {
	mutex *Mutex[T]
	slow  *acquireSlow[T, *Mutex[T]]
	done  bool
}

// Poll drives the operation without waiting.
//
// It returns the guard and true once the lock is held. Otherwise it returns
// nil and false, and wake will be called once, from whichever goroutine
// released the lock, when the operation can make progress. wake must not
// block. Polling a completed or closed operation panics.
//
// Example (hand-rolled driver):
//
//	op := m.LockOp()
//	ready := make(chan struct{}, 1)
//	wake := func() {
//	    select {
//	    case ready <- struct{}{}:
//	    default:
//	    }
//	}
//	for {
//	    if g, ok := op.Poll(wake); ok {
//	        defer g.Unlock()
//	        break
//	    }
//	    <-ready
//	}
func (op *LockOp[T]) Poll(wake func()) (*Guard[T], bool) {
	return op.poll(strategy.NonBlocking{Wake: wake})
}

// Wait drives the operation to completion, parking the calling goroutine.
//
// If ctx ends first, the operation is closed and ctx.Err() is returned.
func (op *LockOp[T]) Wait(ctx context.Context) (*Guard[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	g, ok := op.poll(strategy.Blocking{Ctx: ctx})
	if !ok {
		op.Close()
		return nil, ctx.Err()
	}
	return g, nil
}

// Close abandons the operation.
//
// It is safe to call at any point, including after completion (where it does
// nothing to the granted guard). After Close the operation cannot be driven.
func (op *LockOp[T]) Close() {
	if op.slow != nil {
		op.slow.close()
	}
	op.done = true
}

func (op *LockOp[T]) poll(st strategy.Strategy) (*Guard[T], bool) {
	if op.done {
		panic("mutex: LockOp driven after completion")
	}

	if op.slow == nil {
		if op.mutex.tryLock() {
			op.done = true
			return &Guard[T]{mu: op.mutex}, true
		}
		op.slow = newAcquireSlow[T](op.mutex)
	}

	m, ok := op.slow.poll(st)
	if !ok {
		return nil, false
	}
	op.done = true
	return &Guard[T]{mu: m}, true
}

// SharedLockOp is a pending acquisition through a Shared handle that yields a
// SharedGuard.
//
// It holds its own reference to the mutex, so it may outlive the handle it
// was created from. It behaves like LockOp in every other respect.
type SharedLockOp[T any] struct {
	// handle is the operation's reference until the contended state machine
	// takes it over.
	handle *Shared[T]
	slow   *acquireSlow[T, *Shared[T]]
	done   bool
}

// Poll drives the operation without waiting. See LockOp.Poll.
func (op *SharedLockOp[T]) Poll(wake func()) (*SharedGuard[T], bool) {
	return op.poll(strategy.NonBlocking{Wake: wake})
}

// Wait drives the operation to completion, parking the calling goroutine.
// See LockOp.Wait.
func (op *SharedLockOp[T]) Wait(ctx context.Context) (*SharedGuard[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	g, ok := op.poll(strategy.Blocking{Ctx: ctx})
	if !ok {
		op.Close()
		return nil, ctx.Err()
	}
	return g, nil
}

// Close abandons the operation and drops its reference to the mutex.
func (op *SharedLockOp[T]) Close() {
	if op.slow != nil {
		if h, ok := op.slow.close(); ok {
			h.Release()
		}
	} else if op.handle != nil {
		op.handle.Release()
		op.handle = nil
	}
	op.done = true
}

func (op *SharedLockOp[T]) poll(st strategy.Strategy) (*SharedGuard[T], bool) {
	if op.done {
		panic("mutex: SharedLockOp driven after completion")
	}

	if op.slow == nil {
		h := op.handle
		if h.mu.tryLock() {
			op.handle = nil
			op.done = true
			return &SharedGuard[T]{handle: h}, true
		}
		op.slow = newAcquireSlow[T](h)
		op.handle = nil
	}

	h, ok := op.slow.poll(st)
	if !ok {
		return nil, false
	}
	op.done = true
	return &SharedGuard[T]{handle: h}, true
}
