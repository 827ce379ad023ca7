package mutex

import "fmt"

// Guard is proof that the holder owns a Mutex. It is obtained from
// Mutex.TryLock, Mutex.Lock or a LockOp, and releases the mutex with Unlock.
//
// A Guard must be unlocked exactly once. Calling Unlock twice, or using Value
// after Unlock, panics.
type Guard[T any] struct {
	mu       *Mutex[T]
	released bool
}

// Value returns a pointer to the protected value.
//
// The pointer must not be retained past Unlock.
func (g *Guard[T]) Value() *T {
	if g.released {
		panic("mutex: Value on released guard")
	}
	return &g.mu.data
}

// Unlock releases the mutex and wakes one waiting lock operation.
func (g *Guard[T]) Unlock() {
	if g.released {
		panic("mutex: unlock of released guard")
	}
	g.released = true
	g.mu.unlock()
}

// Source returns the mutex the guard came from.
func (g *Guard[T]) Source() *Mutex[T] {
	return g.mu
}

// String renders the protected value.
func (g *Guard[T]) String() string {
	return fmt.Sprint(*g.Value())
}

// SharedGuard is a Guard obtained through a Shared handle.
//
// It holds its own reference to the mutex, which it drops on Unlock, so it
// can be handed to another goroutine independently of the handle it came
// from.
type SharedGuard[T any] struct {
	handle   *Shared[T]
	released bool
}

// Value returns a pointer to the protected value.
//
// The pointer must not be retained past Unlock.
func (g *SharedGuard[T]) Value() *T {
	if g.released {
		panic("mutex: Value on released guard")
	}
	return &g.handle.mu.data
}

// Unlock releases the mutex, wakes one waiting lock operation and drops the
// guard's reference.
func (g *SharedGuard[T]) Unlock() {
	if g.released {
		panic("mutex: unlock of released guard")
	}
	g.released = true
	g.handle.mu.unlock()
	g.handle.Release()
}

// Source returns the guard's handle to the mutex it came from.
//
// The handle belongs to the guard and is released by Unlock; Clone it to keep
// a reference beyond that.
func (g *SharedGuard[T]) Source() *Shared[T] {
	return g.handle
}

// String renders the protected value.
func (g *SharedGuard[T]) String() string {
	return fmt.Sprint(*g.Value())
}
