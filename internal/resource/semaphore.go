package resource

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore with FIFO admission. A waiter that queued
// earlier is always served before one that queued later, and TryAcquire never
// barges past queued waiters.
//
// It is used for the runway (1 permit), the gate pool (N permits) and the
// refuel truck (1 permit).
type Semaphore struct {
	sem      *semaphore.Weighted
	capacity int

	mu   sync.Mutex
	held int
}

func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a permit is available or ctx is done. On cancellation
// no permit is held and ctx.Err() is returned.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.mu.Lock()
	s.held++
	s.mu.Unlock()
	return nil
}

func (s *Semaphore) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.mu.Lock()
	s.held++
	s.mu.Unlock()
	return true
}

// Release returns a permit and hands it to the oldest waiter, if any.
// Releasing more permits than are held panics.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.held == 0 {
		s.mu.Unlock()
		panic("resource: release of unheld semaphore")
	}
	s.held--
	s.mu.Unlock()
	s.sem.Release(1)
}

func (s *Semaphore) Capacity() int {
	return s.capacity
}

// Available returns the number of permits not currently held.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.held
}
