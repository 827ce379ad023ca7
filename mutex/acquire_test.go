package mutex

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jothan/async-lock/coop"
	"github.com/jothan/async-lock/internal/clock"
)

// waker counts wake calls made on behalf of a suspended lock operation.
type waker struct {
	calls atomic.Int32
}

func (w *waker) wake() {
	w.calls.Add(1)
}

func newManual() (*clock.Manual, Options) {
	c := &clock.Manual{}
	return c, Options{StarvationThreshold: 500 * time.Microsecond, Clock: c}
}

func mustPending[T any](t *testing.T, op *LockOp[T], w *waker, msg string) {
	t.Helper()
	if _, ok := op.Poll(w.wake); ok {
		t.Fatalf("%s: Poll acquired the lock, want pending", msg)
	}
}

// TestAcquire_EscalatesAfterThreshold walks a waiter through the racy phase
// into fair mode using a manual clock, and checks that once escalated it
// cannot be overtaken by newcomers.
func TestAcquire_EscalatesAfterThreshold(t *testing.T) {
	c, opts := newManual()
	m := NewWithOptions(0, opts)

	holder, _ := m.TryLock()

	var wa waker
	a := m.LockOp()
	mustPending(t, a, &wa, "first poll")

	c.Advance(time.Millisecond)

	// Release and barge in before a gets to run.
	holder.Unlock()
	if got := wa.calls.Load(); got != 1 {
		t.Fatalf("a woken %d times after unlock, want 1", got)
	}
	barger, ok := m.TryLock()
	if !ok {
		t.Fatal("barging TryLock failed on a free mutex")
	}

	// a loses the race and, being past the threshold, escalates.
	mustPending(t, a, &wa, "poll after losing race")
	if got := m.State(); got != stateLocked|starvedStep {
		t.Fatalf("State() = %v, want locked,starved=1", got)
	}

	barger.Unlock()
	if got := m.State(); got != starvedStep {
		t.Fatalf("State() = %v, want unlocked,starved=1", got)
	}

	// Newcomers are kept out while a is escalated.
	if _, ok := m.TryLock(); ok {
		t.Fatal("newcomer TryLock overtook an escalated waiter")
	}

	g, ok := a.Poll(wa.wake)
	if !ok {
		t.Fatal("escalated waiter did not acquire the released lock")
	}
	if got := m.State(); got != stateLocked {
		t.Fatalf("State() = %v after escalated acquire, want locked,starved=0", got)
	}
	g.Unlock()
	if got := m.State(); got != 0 {
		t.Fatalf("State() = %v after release, want 0", got)
	}
}

// TestAcquire_NoClockStaysRacy verifies that without a clock a waiter never
// escalates on elapsed time alone.
func TestAcquire_NoClockStaysRacy(t *testing.T) {
	m := NewWithOptions(0, Options{StarvationThreshold: time.Nanosecond, Clock: NoClock})

	for i := 0; i < 10; i++ {
		holder, _ := m.TryLock()
		var wa waker
		a := m.LockOp()
		mustPending(t, a, &wa, "first poll")
		holder.Unlock()

		barger, ok := m.TryLock()
		if !ok {
			t.Fatalf("round %d: barging TryLock failed", i)
		}
		mustPending(t, a, &wa, "poll after losing race")
		if got := m.State().Starved(); got != 0 {
			t.Fatalf("round %d: starved = %d without a clock, want 0", i, got)
		}
		barger.Unlock()

		g, ok := a.Poll(wa.wake)
		if !ok {
			t.Fatalf("round %d: waiter did not acquire the released lock", i)
		}
		g.Unlock()
	}
}

// TestAcquire_JoinsFairQueue verifies a newcomer that sees an escalated waiter
// escalates too and queues behind it.
func TestAcquire_JoinsFairQueue(t *testing.T) {
	c, opts := newManual()
	m := NewWithOptions(0, opts)

	holder, _ := m.TryLock()

	// Escalate a.
	var wa waker
	a := m.LockOp()
	mustPending(t, a, &wa, "a first poll")
	c.Advance(time.Millisecond)
	holder.Unlock()
	holder, _ = m.TryLock()
	mustPending(t, a, &wa, "a escalation")

	// b arrives: the fast path fails and its first racy attempt sees a
	// starved count, so it escalates immediately.
	var wb waker
	b := m.LockOp()
	mustPending(t, b, &wb, "b first poll")
	if got := m.State(); got != stateLocked|2*starvedStep {
		t.Fatalf("State() = %v, want locked,starved=2", got)
	}

	holder.Unlock()
	if wa.calls.Load() != 2 || wb.calls.Load() != 0 {
		t.Fatalf("wake counts a=%d b=%d, want the queue head woken only", wa.calls.Load(), wb.calls.Load())
	}
	mustPending(t, b, &wb, "b before a")

	ga, ok := a.Poll(wa.wake)
	if !ok {
		t.Fatal("queue head did not acquire the lock")
	}
	if got := m.State(); got != stateLocked|starvedStep {
		t.Fatalf("State() = %v, want locked,starved=1", got)
	}
	ga.Unlock()

	gb, ok := b.Poll(wb.wake)
	if !ok {
		t.Fatal("second in queue did not acquire the lock")
	}
	gb.Unlock()

	if got := m.State(); got != 0 {
		t.Fatalf("State() = %v, want 0", got)
	}
}

// TestAcquire_CloseWhileStarved verifies abandoning an escalated operation
// restores the starved count.
func TestAcquire_CloseWhileStarved(t *testing.T) {
	c, opts := newManual()
	m := NewWithOptions(0, opts)

	holder, _ := m.TryLock()
	var wa waker
	a := m.LockOp()
	mustPending(t, a, &wa, "first poll")
	c.Advance(time.Millisecond)
	holder.Unlock()
	holder, _ = m.TryLock()
	mustPending(t, a, &wa, "escalation")

	if got := m.State().Starved(); got != 1 {
		t.Fatalf("starved = %d, want 1", got)
	}

	a.Close()
	a.Close()
	if got := m.State(); got != stateLocked {
		t.Fatalf("State() = %v after Close, want locked,starved=0", got)
	}

	holder.Unlock()
	if _, ok := m.TryLock(); !ok {
		t.Fatal("mutex not acquirable after escalated waiter left")
	}
}

// TestAcquire_CloseForwardsWake verifies a notified operation that is closed
// before acting on its notification passes it to the next waiter.
func TestAcquire_CloseForwardsWake(t *testing.T) {
	m := New(0)
	holder, _ := m.TryLock()

	var wa, wb waker
	a := m.LockOp()
	b := m.LockOp()
	mustPending(t, a, &wa, "a")
	mustPending(t, b, &wb, "b")

	holder.Unlock()
	if wa.calls.Load() != 1 || wb.calls.Load() != 0 {
		t.Fatalf("wake counts a=%d b=%d, want a only", wa.calls.Load(), wb.calls.Load())
	}

	a.Close()
	if got := wb.calls.Load(); got != 1 {
		t.Fatalf("b woken %d times after a was closed, want 1", got)
	}

	g, ok := b.Poll(wb.wake)
	if !ok {
		t.Fatal("b did not acquire the lock after the forwarded wake")
	}
	g.Unlock()
}

// TestAcquire_PollAfterCompletion verifies driving a completed operation panics.
func TestAcquire_PollAfterCompletion(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(m *Mutex[int]) *LockOp[int]
	}{
		{"fast path", func(m *Mutex[int]) *LockOp[int] {
			op := m.LockOp()
			g, _ := op.Poll(nil)
			g.Unlock()
			return op
		}},
		{"slow path", func(m *Mutex[int]) *LockOp[int] {
			holder, _ := m.TryLock()
			op := m.LockOp()
			op.Poll(func() {})
			holder.Unlock()
			g, _ := op.Poll(func() {})
			g.Unlock()
			return op
		}},
		{"closed", func(m *Mutex[int]) *LockOp[int] {
			op := m.LockOp()
			op.Close()
			return op
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.prepare(New(0))

			defer func() {
				if recover() == nil {
					t.Error("Poll on a completed operation did not panic")
				}
			}()
			op.Poll(func() {})
		})
	}
}

// TestAcquire_CloseAfterSuccess verifies Close leaves a granted lock alone.
func TestAcquire_CloseAfterSuccess(t *testing.T) {
	m := New(0)
	op := m.LockOp()
	g, err := op.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	op.Close()

	if !m.State().Locked() {
		t.Fatal("Close released a granted lock")
	}
	g.Unlock()
}

// TestAcquire_StarvedCountBalanced runs contended and abandoned lock
// operations with a tiny threshold and checks the state word returns to zero.
func TestAcquire_StarvedCountBalanced(t *testing.T) {
	m := NewWithOptions(0, Options{StarvationThreshold: time.Nanosecond})

	const workers = 32
	const rounds = 200
	var acquired atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < rounds; i++ {
				timeout := time.Duration(rng.Intn(50)) * time.Microsecond
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				g, err := m.Lock(ctx)
				cancel()
				if err != nil {
					if !errors.Is(err, context.DeadlineExceeded) {
						t.Errorf("Lock: %v", err)
					}
					continue
				}
				acquired.Add(1)
				*g.Value()++
				if rng.Intn(4) == 0 {
					runtime.Gosched()
				}
				g.Unlock()
			}
		}(int64(w))
	}
	wg.Wait()

	if got := m.State(); got != 0 {
		t.Fatalf("State() = %v after all operations ended, want 0", got)
	}
	if got := int64(m.IntoInner()); got != acquired.Load() {
		t.Fatalf("counter = %d, want %d", got, acquired.Load())
	}
}

// TestAcquire_Cooperative drives 1000 lock operations on a cooperative
// executor with fewer workers than tasks.
func TestAcquire_Cooperative(t *testing.T) {
	ex, err := coop.NewExecutor(4)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	defer ex.Close()

	m := NewWithOptions(0, Options{StarvationThreshold: 50 * time.Microsecond})
	const n = 1000

	var inside atomic.Int32
	for i := 0; i < n; i++ {
		op := m.LockOp()
		_, err := ex.Spawn(coop.FutureFunc(func(wake func()) bool {
			g, ok := op.Poll(wake)
			if !ok {
				return false
			}
			if inside.Add(1) != 1 {
				t.Error("critical sections overlapped")
			}
			*g.Value()++
			inside.Add(-1)
			g.Unlock()
			return true
		}))
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ex.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := m.IntoInner(); got != n {
		t.Errorf("counter = %d, want %d", got, n)
	}
	if got := m.State(); got != 0 {
		t.Errorf("State() = %v, want 0", got)
	}
}

// TestAcquire_MixedDrivers contends one mutex from parked goroutines and
// cooperative tasks at the same time.
func TestAcquire_MixedDrivers(t *testing.T) {
	ex, err := coop.NewExecutor(2)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	defer ex.Close()

	m := NewWithOptions(0, Options{StarvationThreshold: 10 * time.Microsecond})
	const perDriver = 500

	var wg sync.WaitGroup
	for i := 0; i < perDriver; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := m.Lock(context.Background())
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			*g.Value()++
			g.Unlock()
		}()

		op := m.LockOp()
		if _, err := ex.Spawn(coop.FutureFunc(func(wake func()) bool {
			g, ok := op.Poll(wake)
			if !ok {
				return false
			}
			*g.Value()++
			g.Unlock()
			return true
		})); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ex.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	wg.Wait()

	if got := m.IntoInner(); got != 2*perDriver {
		t.Errorf("counter = %d, want %d", got, 2*perDriver)
	}
}

// TestCompareExchange verifies the observed-value contract of compareExchange.
func TestCompareExchange(t *testing.T) {
	var m Mutex[struct{}]

	if got := m.compareExchange(0, 1); got != 0 {
		t.Errorf("compareExchange(0, 1) on 0 = %d, want 0", got)
	}
	if got := m.compareExchange(0, 1); got != 1 {
		t.Errorf("compareExchange(0, 1) on 1 = %d, want 1", got)
	}
	m.state.Store(6)
	if got := m.compareExchange(2, 3); got != 6 {
		t.Errorf("compareExchange(2, 3) on 6 = %d, want 6", got)
	}
	if got := m.state.Load(); got != 6 {
		t.Errorf("failed compareExchange changed the word to %d", got)
	}
}
