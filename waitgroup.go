package fio

import (
	"sync"

	"github.com/gammazero/deque"
)

// WaitGroup waits for a collection of fibers to finish. Fibers (or
// the code starting them) call Add and Done; Wait yields an IO that
// suspends until the counter reaches zero. The zero value is ready to
// use.
type WaitGroup struct {
	noCopy  noCopy
	mu      sync.Mutex
	n       int
	waiters deque.Deque[*semWaiter]
}

// Add adds delta to the counter. If the counter reaches zero, every
// waiting fiber resumes. A negative counter panics.
func (wg *WaitGroup) Add(delta int) {
	wg.mu.Lock()
	wg.n += delta
	if wg.n < 0 {
		wg.mu.Unlock()
		panic("fio: negative WaitGroup counter")
	}
	if wg.n > 0 {
		wg.mu.Unlock()
		return
	}
	var ready []*semWaiter
	for wg.waiters.Len() > 0 {
		w := wg.waiters.PopFront()
		if !w.canceled {
			ready = append(ready, w)
		}
	}
	wg.mu.Unlock()

	for _, w := range ready {
		w.complete(Unit{}, nil)
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait yields an IO that suspends the fiber until the counter is
// zero. If it already is, the IO completes immediately.
func (wg *WaitGroup) Wait() IO[Unit] {
	return IO[Unit]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		wg.mu.Lock()
		if wg.n == 0 {
			wg.mu.Unlock()
			complete(Unit{}, nil)
			return nil
		}
		w := &semWaiter{complete: complete}
		wg.waiters.PushBack(w)
		wg.mu.Unlock()
		return func() {
			wg.mu.Lock()
			w.canceled = true
			wg.mu.Unlock()
		}
	}}}
}
