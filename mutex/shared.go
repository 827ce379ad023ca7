package mutex

import (
	"context"
	"sync/atomic"
)

// Shared is a reference-counted handle to a Mutex.
//
// Each handle is owned by one holder and released once with Release. Clone
// hands out another reference. SharedLockOp and SharedGuard hold references of
// their own, which is what lets a shared guard travel independently of the
// call that acquired it.
//
// Shared.GetMut uses the count to bypass the lock only when the caller holds
// the sole reference.
type Shared[T any] struct {
	mu       *Mutex[T]
	refs     *atomic.Int64
	released atomic.Bool
}

// NewShared creates a mutex holding v and returns the first handle to it.
//
// Example:
//
//	h := mutex.NewShared(10)
//	defer h.Release()
func NewShared[T any](v T) *Shared[T] {
	return Share(New(v))
}

// Share wraps an existing mutex in a new reference count.
//
// The mutex must not be shared through another count at the same time.
func Share[T any](m *Mutex[T]) *Shared[T] {
	refs := new(atomic.Int64)
	refs.Store(1)
	return &Shared[T]{mu: m, refs: refs}
}

// Clone returns a new handle to the same mutex.
func (s *Shared[T]) Clone() *Shared[T] {
	s.checkLive()
	s.refs.Add(1)
	return &Shared[T]{mu: s.mu, refs: s.refs}
}

// Release drops this handle's reference. Releasing a handle twice panics.
func (s *Shared[T]) Release() {
	if !s.released.CompareAndSwap(false, true) {
		panic("mutex: Shared handle released twice")
	}
	s.refs.Add(-1)
}

// Refs returns the number of live references, including those held by
// pending SharedLockOps and live SharedGuards.
func (s *Shared[T]) Refs() int64 {
	return s.refs.Load()
}

// Mutex returns the underlying mutex.
func (s *Shared[T]) Mutex() *Mutex[T] {
	return s.mu
}

// TryLock attempts to acquire the mutex without waiting.
func (s *Shared[T]) TryLock() (*SharedGuard[T], bool) {
	s.checkLive()
	if !s.mu.tryLock() {
		return nil, false
	}
	return &SharedGuard[T]{handle: s.Clone()}, true
}

// Lock acquires the mutex, parking the calling goroutine until it is granted
// or ctx is done.
func (s *Shared[T]) Lock(ctx context.Context) (*SharedGuard[T], error) {
	return s.LockOp().Wait(ctx)
}

// LockOp returns a lock operation holding its own reference to the mutex.
func (s *Shared[T]) LockOp() *SharedLockOp[T] {
	return &SharedLockOp[T]{handle: s.Clone()}
}

// GetMut returns a pointer to the protected value without locking.
//
// It succeeds only when s is the only reference to the mutex and the mutex is
// unlocked with no escalated lock operation queued. That rules out any live
// guard or pending lock operation obtained through a handle. Guards and
// operations obtained directly from Mutex() are not counted; the state word
// covers them.
func (s *Shared[T]) GetMut() (*T, bool) {
	s.checkLive()
	if s.refs.Load() != 1 || s.mu.State() != 0 {
		return nil, false
	}
	return &s.mu.data, true
}

// IntoInner releases the handle and returns the protected value if s was the
// only reference. Otherwise the handle is left untouched and false is
// returned.
func (s *Shared[T]) IntoInner() (T, bool) {
	p, ok := s.GetMut()
	if !ok {
		var zero T
		return zero, false
	}
	v := *p
	s.Release()
	return v, true
}

// borrow lets a handle act as the reference of a lock operation.
func (s *Shared[T]) borrow() *Mutex[T] {
	return s.mu
}

func (s *Shared[T]) checkLive() {
	if s.released.Load() {
		panic("mutex: use of released Shared handle")
	}
}
