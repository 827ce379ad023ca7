// Package coop runs cooperative tasks on a bounded worker pool.
//
// A task is a Future: a resumable operation that is polled until it reports
// completion. When a poll cannot make progress, the future arranges for its
// wake function to be called later and returns; the worker is then free to
// run other tasks. This is how mutex.LockOp is driven without parking a
// goroutine per waiter:
//
//	ex, _ := coop.NewExecutor(4)
//	defer ex.Close()
//
//	op := m.LockOp()
//	ex.Spawn(coop.FutureFunc(func(wake func()) bool {
//	    g, ok := op.Poll(wake)
//	    if !ok {
//	        return false
//	    }
//	    defer g.Unlock()
//	    *g.Value()++
//	    return true
//	}))
//	ex.Wait(ctx)
//
// Futures must never block: a task that parks its worker (for example by
// calling mutex.Mutex.Lock) can deadlock the executor.
package coop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// ErrClosed is returned by Spawn after Close.
var ErrClosed = errors.New("coop: executor closed")

// Future is a resumable operation.
type Future interface {
	// Poll advances the operation. It returns true when the operation is
	// complete. When it returns false, the future must make sure wake is
	// called once it can make progress again.
	Poll(wake func()) bool
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(wake func()) bool

// Poll implements Future.
func (f FutureFunc) Poll(wake func()) bool {
	return f(wake)
}

// Executor polls futures on a fixed number of workers.
//
// Thread Safety: All methods are safe for concurrent calls.
type Executor struct {
	pool *ants.Pool

	// workers is the maximum number of concurrent drain loops.
	workers int

	mu sync.Mutex
	// queue holds tasks that have been woken and wait for a worker.
	queue []*Task
	// draining is the number of drain loops currently submitted to the pool.
	draining int
	// pending counts spawned tasks that have not completed.
	pending int
	// idle is closed when pending drops to zero. It is replaced when a task
	// is spawned on an idle executor.
	idle chan struct{}
	// abandoned counts tasks that were still pending at Close.
	abandoned int
	closed    bool

	// panicked holds the first value recovered from a panicking future.
	panicked atomic.Pointer[panicError]
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("coop: task panicked: %v", p.value)
}

// NewExecutor creates an executor with the given number of workers.
//
// Example:
//
//	ex, err := coop.NewExecutor(runtime.GOMAXPROCS(0))
//	if err != nil {
//	    return err
//	}
//	defer ex.Close()
func NewExecutor(workers int) (*Executor, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("coop: invalid worker count %d", workers)
	}

	pool, err := ants.NewPool(workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("coop: create worker pool: %w", err)
	}

	idle := make(chan struct{})
	close(idle)

	return &Executor{
		pool:    pool,
		workers: workers,
		idle:    idle,
	}, nil
}

// Spawn schedules f for its first poll.
//
// It returns ErrClosed once Close has been called, including when Close races
// with Spawn.
func (e *Executor) Spawn(f Future) (*Task, error) {
	t := &Task{
		exec:   e,
		future: f,
		done:   make(chan struct{}),
	}
	t.state.Store(taskScheduled)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++
	e.mu.Unlock()

	// If Close slipped in since, it already counted t as abandoned.
	if err := e.schedule(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Wait blocks until every spawned task has completed or ctx is done.
//
// It returns the first panic recovered from a task, if any, and ErrClosed if
// tasks were abandoned by Close.
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p := e.panicked.Load(); p != nil {
		return p
	}

	e.mu.Lock()
	abandoned := e.abandoned
	e.mu.Unlock()
	if abandoned > 0 {
		return fmt.Errorf("%w: %d tasks abandoned", ErrClosed, abandoned)
	}
	return nil
}

// Close stops accepting tasks and releases the worker pool.
//
// Tasks that are still pending are abandoned; they will not be polled again,
// and Wait reports them with ErrClosed.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	if e.pending > 0 {
		e.abandoned = e.pending
		e.pending = 0
		close(e.idle)
	}
	e.mu.Unlock()

	e.pool.Release()
}

// Running returns the number of workers currently draining the run queue.
//
// It is a snapshot for diagnostics.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// schedule queues t and makes sure a worker will pick it up.
//
// It returns ErrClosed, without queueing t, once the executor is closed.
func (e *Executor) schedule(t *Task) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = append(e.queue, t)
	spawn := e.draining < e.workers
	if spawn {
		e.draining++
	}
	e.mu.Unlock()

	if !spawn {
		// A running drain loop will reach t.
		return nil
	}

	if err := e.pool.Submit(e.drain); err != nil {
		// Only a released pool refuses work, so Close has run and t was
		// counted as abandoned.
		e.mu.Lock()
		e.draining--
		e.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// drain polls queued tasks until the queue is empty.
//
// The empty check and the draining decrement happen under the same lock as
// schedule's decision to start a drain loop, so a queued task always has a
// drain loop that will reach it.
func (e *Executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || e.closed {
			e.draining--
			e.mu.Unlock()
			return
		}
		t := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		t.run()
	}
}

// taskDone records the completion of a task.
func (e *Executor) taskDone() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// After Close the task was already counted as abandoned.
	if e.closed {
		return
	}
	e.pending--
	if e.pending == 0 {
		close(e.idle)
	}
}

func (e *Executor) recordPanic(v any) {
	e.panicked.CompareAndSwap(nil, &panicError{value: v})
}
