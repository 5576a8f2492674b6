// Package sync provides synchronization primitive implementations for
// spinlocks, used by the memory allocators to serialize access to their
// process-wide singleton state.
package sync

import "sync/atomic"

// Spinlock implements a lock where each task trying to acquire it
// busy-waits till the lock becomes available. Allocator code uses it to
// wrap every operation in a critical section. It does not disable
// interrupts: an interrupt handler that enters the same allocator while
// the lock is held spins forever.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Any attempt to re-acquire a lock already held by the current task
// will deadlock.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
