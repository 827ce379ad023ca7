package coop

import "sync/atomic"

// Task states.
//
//	idle      --wake-->  scheduled
//	scheduled --worker-> running
//	running   --wake-->  notified
//	running   --pending-> idle
//	notified  --pending-> running (polled again immediately)
//	running   --ready-->  done
const (
	taskIdle int32 = iota
	taskScheduled
	taskRunning
	taskNotified
	taskDone
)

// Task is a spawned future.
//
// A task is polled by at most one worker at a time, and a wake that arrives
// while it is being polled causes one more poll instead of being lost.
type Task struct {
	exec   *Executor
	future Future
	state  atomic.Int32
	done   chan struct{}
}

// Done returns a channel that is closed when the task has completed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// wake reschedules the task. It is safe to call from any goroutine, any
// number of times.
func (t *Task) wake() {
	for {
		switch t.state.Load() {
		case taskIdle:
			if t.state.CompareAndSwap(taskIdle, taskScheduled) {
				// A closed executor drops the task.
				_ = t.exec.schedule(t)
				return
			}
		case taskRunning:
			if t.state.CompareAndSwap(taskRunning, taskNotified) {
				return
			}
		default:
			// Already scheduled, already notified, or done.
			return
		}
	}
}

// run polls the task until it completes or goes idle.
func (t *Task) run() {
	t.state.Store(taskRunning)

	for {
		if t.poll() {
			t.state.Store(taskDone)
			close(t.done)
			t.exec.taskDone()
			return
		}

		if t.state.CompareAndSwap(taskRunning, taskIdle) {
			return
		}

		// Woken while polling.
		t.state.Store(taskRunning)
	}
}

// poll runs one poll of the future. A panicking future is recorded on the
// executor and treated as complete.
func (t *Task) poll() (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			t.exec.recordPanic(r)
			ready = true
		}
	}()
	return t.future.Poll(t.wake)
}
