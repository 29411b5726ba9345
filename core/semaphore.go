package core

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Semaphore is a binary semaphore that may be released from interrupt
// context. Acquire polls, yielding to other goroutines between checks.
type Semaphore struct {
	count uint32
}

// Release posts the semaphore. Safe to call from an interrupt handler.
func (s *Semaphore) Release() {
	atomic.StoreUint32(&s.count, 1)
}

// TryAcquire takes the semaphore if it is posted.
func (s *Semaphore) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&s.count, 1, 0)
}

// Acquire waits up to timeout for the semaphore.
func (s *Semaphore) Acquire(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.TryAcquire() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		runtime.Gosched()
	}
}

// Drain discards a stale post.
func (s *Semaphore) Drain() {
	atomic.StoreUint32(&s.count, 0)
}
