package fio

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// Mutex provides mutual exclusion between fibers. Only one fiber
// holds the lock at a time; Lock suspends contenders until the holder
// unlocks. The zero value is an unlocked Mutex.
type Mutex struct {
	noCopy  noCopy
	mu      sync.Mutex
	locked  bool
	waiters deque.Deque[*semWaiter]
}

// Lock yields an IO that acquires the mutex, suspending the fiber
// while another fiber holds it. Canceling a waiting fiber gives up
// its place in the queue.
func (m *Mutex) Lock() IO[Unit] {
	return IO[Unit]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		return m.lock(complete)
	}}}
}

func (m *Mutex) lock(complete completeFunc) func() {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		complete(Unit{}, nil)
		return nil
	}
	w := &semWaiter{complete: complete}
	m.waiters.PushBack(w)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		w.canceled = true
		handed := w.handed
		m.mu.Unlock()
		if handed {
			// The lock was already handed to this canceled waiter;
			// pass it on. locked is still true at this point.
			m.unlock()
		}
	}
}

// Unlock yields an IO that releases the mutex, handing it to the
// first live waiter if any.
func (m *Mutex) Unlock() IO[Unit] {
	return Void(func() error {
		m.unlock()
		return nil
	})
}

func (m *Mutex) unlock() {
	m.mu.Lock()
	if !m.locked {
		m.mu.Unlock()
		panic("fio: unlock of unlocked Mutex")
	}
	for m.waiters.Len() > 0 {
		w := m.waiters.PopFront()
		if w.canceled {
			continue
		}
		// The lock passes directly to the waiter; locked stays true.
		// If the waiter's fiber is canceled around the handoff, its
		// cancel hook sees handed and passes the lock on.
		w.handed = true
		m.mu.Unlock()
		w.complete(Unit{}, nil)
		return
	}
	m.locked = false
	m.mu.Unlock()
}

// WaitCount returns the number of fibers waiting to acquire the
// mutex, canceled waiters included.
func (m *Mutex) WaitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.Len()
}

// WithLock runs io while holding m, unlocking on success, failure or
// cancellation. The unlock is registered before the lock suspends, so
// a cancellation landing right after the lock is handed over still
// releases it.
func WithLock[A any](m *Mutex, io IO[A]) IO[A] {
	return Defer(func() IO[A] {
		var held atomic.Bool
		take := FlatMap(m.Lock(), func(Unit) IO[A] {
			// Runs on the resumption itself, ahead of any
			// cancellation safe point.
			held.Store(true)
			return io
		})
		give := Void(func() error {
			if held.Swap(false) {
				m.unlock()
			}
			return nil
		})
		return Guarantee(take, give)
	})
}
