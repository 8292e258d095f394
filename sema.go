package fio

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// semWaiter is one fiber queued on a semaphore, mutex or wait group.
// A canceled waiter stays queued and is skipped on release. handed
// marks a waiter a release already picked: if its fiber turns out to
// have been canceled around the handoff, the cancel hook re-offers
// what it was handed instead of letting it vanish.
type semWaiter struct {
	complete completeFunc
	canceled bool
	handed   bool
}

// Semaphore bounds concurrency between fibers with a counted set of
// permits. Acquire suspends the fiber when no permit is available;
// waiters resume in FIFO order.
type Semaphore struct {
	mu      sync.Mutex
	permits int64
	waiters deque.Deque[*semWaiter]
}

// NewSemaphore creates a Semaphore with the given number of permits.
func NewSemaphore(permits int64) *Semaphore {
	if permits < 0 {
		panic("fio: negative semaphore permits")
	}
	return &Semaphore{permits: permits}
}

// Acquire yields an IO that takes one permit, suspending the fiber
// until one is available. Canceling the fiber while it waits gives up
// its place in the queue.
func (s *Semaphore) Acquire() IO[Unit] {
	return IO[Unit]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		return s.acquire(complete)
	}}}
}

func (s *Semaphore) acquire(complete completeFunc) func() {
	s.mu.Lock()
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		complete(Unit{}, nil)
		return nil
	}
	w := &semWaiter{complete: complete}
	s.waiters.PushBack(w)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		w.canceled = true
		handed := w.handed
		s.mu.Unlock()
		if handed {
			// A release already picked this waiter, but the
			// resumption can no longer land. Return the permit.
			s.release()
		}
	}
}

// TryAcquire yields an IO that takes a permit if one is immediately
// available, reporting whether it did.
func (s *Semaphore) TryAcquire() IO[bool] {
	return Delay(func() (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.permits > 0 {
			s.permits--
			return true, nil
		}
		return false, nil
	})
}

// Release yields an IO that returns one permit, resuming the first
// live waiter if any.
func (s *Semaphore) Release() IO[Unit] {
	return Void(func() error {
		s.release()
		return nil
	})
}

func (s *Semaphore) release() {
	s.mu.Lock()
	for s.waiters.Len() > 0 {
		w := s.waiters.PopFront()
		if w.canceled {
			continue
		}
		w.handed = true
		s.mu.Unlock()
		// Hand the permit straight to the waiter. If its fiber is
		// canceled around the handoff, the waiter's cancel hook sees
		// handed and returns the permit.
		w.complete(Unit{}, nil)
		return
	}
	s.permits++
	s.mu.Unlock()
}

// Available returns the number of free permits.
func (s *Semaphore) Available() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}

// WithPermit runs io while holding one permit of s, releasing it on
// success, failure or cancellation. The release is registered before
// the acquire suspends, so a cancellation landing right after the
// permit is handed over still returns it.
func WithPermit[A any](s *Semaphore, io IO[A]) IO[A] {
	return Defer(func() IO[A] {
		var held atomic.Bool
		take := FlatMap(s.Acquire(), func(Unit) IO[A] {
			// Runs on the resumption itself, ahead of any
			// cancellation safe point.
			held.Store(true)
			return io
		})
		give := Void(func() error {
			if held.Swap(false) {
				s.release()
			}
			return nil
		})
		return Guarantee(take, give)
	})
}
