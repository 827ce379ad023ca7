// Package strategy turns the mutex's resumable acquisition state machine into
// either a goroutine-blocking call or a cooperatively suspending operation.
//
// The state machine reaches a suspension point whenever it has to wait for a
// notification on an event.Listener. At that point it asks its Strategy to
// Poll the listener:
//
//   - Blocking parks the goroutine until the listener fires. It only reports
//     false when its context ends.
//   - NonBlocking never parks. It reports false when the listener has not
//     fired yet, after arranging for Wake to be called once it does.
//
// In both cases a true result means the listener was consumed and the state
// machine may continue; false means the state machine must return to its
// driver and be polled again (NonBlocking) or abandoned (Blocking).
package strategy

import (
	"context"

	"github.com/jothan/async-lock/internal/event"
)

// Strategy waits for a listener on behalf of the acquisition state machine.
type Strategy interface {
	// Poll reports whether l was notified. On true, l has been consumed.
	Poll(l *event.Listener) bool
}

// Blocking parks the calling goroutine on the listener.
//
// Blocking must not be used from a cooperative executor's worker: parking a
// worker can starve the tasks that would release the lock.
type Blocking struct {
	// Ctx bounds the wait. A nil Ctx waits forever.
	Ctx context.Context
}

// Poll implements Strategy.
func (s Blocking) Poll(l *event.Listener) bool {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return l.Wait(ctx)
}

// NonBlocking checks the listener without waiting.
type NonBlocking struct {
	// Wake is called once when a pending listener is notified. The driver
	// uses it to schedule the next Poll.
	Wake func()
}

// Poll implements Strategy.
func (s NonBlocking) Poll(l *event.Listener) bool {
	return l.Poll(s.Wake)
}
