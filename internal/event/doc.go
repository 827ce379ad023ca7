// Package event implements the registration-and-wake primitive used by the
// mutex to suspend and resume waiters without busy-polling.
//
// An Event keeps its listeners in registration order. A waiter first calls
// Listen to announce interest, then re-checks whatever condition it waits
// for, and only then parks on the Listener. Because registration happens
// before the check, a notification sent after Listen is never missed.
//
// Notification Semantics:
//
//	Notify(n)           ensure the first n listeners are notified
//	                    (already notified listeners count toward n)
//	NotifyAdditional(n) notify n listeners that are not yet notified
//
// A notified Listener stays registered until it is consumed (Poll or Wait
// reports true) or discarded. Discarding a notified Listener hands the
// notification to the next listener in line, so an abandoned waiter can never
// swallow a wake-up meant for the queue.
//
// Example:
//
//	var ev event.Event
//
//	// Waiter
//	l := ev.Listen()
//	if !ready() {
//	    l.Wait(ctx)
//	} else {
//	    l.Discard()
//	}
//
//	// Waker
//	setReady()
//	ev.Notify(1)
package event
