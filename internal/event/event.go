package event

import (
	"context"
	"sync"
)

// Event is a FIFO list of listeners waiting for a notification.
//
// The zero value is an empty Event ready for use. An Event must not be copied
// after first use.
//
// Thread Safety: All methods are safe for concurrent calls.
type Event struct {
	mu sync.Mutex

	// head and tail delimit the registration-ordered listener list.
	// Notified listeners always form a prefix of the list, because every
	// notification goes to the earliest listener that is not yet notified.
	head *Listener
	tail *Listener

	// length is the number of registered listeners.
	length int

	// notified is the number of registered listeners in the notified state.
	notified int
}

// Listener is a single registration on an Event.
//
// A Listener is owned by one waiter. It is consumed by a successful Poll or
// Wait, or released by Discard. Using it after that panics.
type Listener struct {
	event *Event

	prev *Listener
	next *Listener

	// ch is closed when the listener is notified.
	ch chan struct{}

	// wake is called once, outside the event lock, when the listener is
	// notified after a pending Poll.
	wake func()

	registered bool
	notified   bool

	// additional records how the notification was issued so that a
	// discarded listener propagates it with the same semantics.
	additional bool
}

// Listen registers a new listener at the tail of the queue.
//
// Any notification issued after Listen returns is observed by the returned
// listener or, if it is discarded while notified, forwarded to the next one.
func (e *Event) Listen() *Listener {
	l := &Listener{
		event:      e,
		ch:         make(chan struct{}),
		registered: true,
	}

	e.mu.Lock()
	l.prev = e.tail
	if e.tail != nil {
		e.tail.next = l
	} else {
		e.head = l
	}
	e.tail = l
	e.length++
	e.mu.Unlock()

	return l
}

// Notify makes sure the first n registered listeners are notified.
//
// Listeners that are already notified but not yet consumed count toward n,
// so Notify(1) on a queue whose head is already notified does nothing. This
// is what keeps a burst of unlocks from waking the whole queue.
func (e *Event) Notify(n int) {
	if n <= 0 {
		return
	}

	e.mu.Lock()
	wakes := e.notifyLocked(n, false)
	e.mu.Unlock()

	runWakes(wakes)
}

// NotifyAdditional notifies up to n listeners that are not notified yet,
// regardless of how many notified listeners are still pending.
func (e *Event) NotifyAdditional(n int) {
	if n <= 0 {
		return
	}

	e.mu.Lock()
	wakes := e.notifyLocked(n, true)
	e.mu.Unlock()

	runWakes(wakes)
}

// Len returns the number of registered listeners.
func (e *Event) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.length
}

// Notified returns the number of registered listeners that have been
// notified but not yet consumed or discarded.
func (e *Event) Notified() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notified
}

// notifyLocked walks the list from the head and notifies listeners.
//
// Without additional, it stops once n listeners are in the notified state.
// With additional, it notifies n listeners that were not notified before.
// Returned wake callbacks must be run after e.mu is released.
//
// Caller must hold e.mu.
func (e *Event) notifyLocked(n int, additional bool) []func() {
	var wakes []func()

	count := 0
	for l := e.head; l != nil; l = l.next {
		if additional {
			if count >= n {
				break
			}
		} else if e.notified >= n {
			break
		}

		if l.notified {
			continue
		}

		l.notified = true
		l.additional = additional
		e.notified++
		count++
		close(l.ch)

		if l.wake != nil {
			wakes = append(wakes, l.wake)
			l.wake = nil
		}
	}

	return wakes
}

// removeLocked unlinks l from the list.
//
// Caller must hold e.mu.
func (e *Event) removeLocked(l *Listener) {
	if l.prev != nil {
		l.prev.next = l.next
	} else {
		e.head = l.next
	}
	if l.next != nil {
		l.next.prev = l.prev
	} else {
		e.tail = l.prev
	}
	l.prev = nil
	l.next = nil
	l.registered = false
	l.wake = nil

	e.length--
	if l.notified {
		e.notified--
	}
}

func runWakes(wakes []func()) {
	for _, wake := range wakes {
		wake()
	}
}

// Poll reports whether the listener has been notified, without blocking.
//
// When it returns true the listener is consumed and removed from the queue.
// When it returns false, wake (if non-nil) is stored and will be called
// exactly once when the listener is notified. A later Poll replaces the
// stored wake callback.
func (l *Listener) Poll(wake func()) bool {
	e := l.event

	e.mu.Lock()
	if !l.registered {
		e.mu.Unlock()
		panic("event: listener used after it was consumed or discarded")
	}
	if l.notified {
		e.removeLocked(l)
		e.mu.Unlock()
		return true
	}
	l.wake = wake
	e.mu.Unlock()

	return false
}

// Wait parks the calling goroutine until the listener is notified or ctx is
// done.
//
// It returns true when the listener was notified; the listener is then
// consumed. It returns false when ctx ended first; the listener stays
// registered and the caller is expected to Discard it (which forwards any
// notification that raced with the cancellation).
func (l *Listener) Wait(ctx context.Context) bool {
	done := ctx.Done()
	if done == nil {
		<-l.ch
		return l.consume()
	}

	select {
	case <-l.ch:
		return l.consume()
	case <-done:
		// Prefer a notification that arrived at the same time.
		select {
		case <-l.ch:
			return l.consume()
		default:
			return false
		}
	}
}

// consume removes a notified listener from its queue.
func (l *Listener) consume() bool {
	e := l.event

	e.mu.Lock()
	if !l.registered {
		e.mu.Unlock()
		panic("event: listener used after it was consumed or discarded")
	}
	e.removeLocked(l)
	e.mu.Unlock()

	return true
}

// Discard unregisters the listener.
//
// If the listener had been notified, the notification is passed on to the
// next listener in line. Discarding an already consumed or discarded listener
// is a no-op.
func (l *Listener) Discard() {
	e := l.event

	e.mu.Lock()
	if !l.registered {
		e.mu.Unlock()
		return
	}

	wasNotified := l.notified
	additional := l.additional
	e.removeLocked(l)

	var wakes []func()
	if wasNotified {
		wakes = e.notifyLocked(1, additional)
	}
	e.mu.Unlock()

	runWakes(wakes)
}

// Done returns a channel that is closed when the listener is notified.
//
// Receiving from Done does not consume the listener; follow it with Poll.
func (l *Listener) Done() <-chan struct{} {
	return l.ch
}
