package fio

import (
	"fmt"
	"sync"
)

const (
	kindPending uint8 = iota
	kindSucceeded
	kindFailed
	kindCanceled
)

// outcome is the untyped terminal state flowing through the runtime.
type outcome struct {
	kind  uint8
	value any
	err   error
}

// Outcome is the terminal state of a fiber: exactly one of
// Succeeded, Failed or Canceled. Once recorded it never changes.
type Outcome[A any] struct {
	kind  uint8
	value A
	err   error
}

// Succeeded reports whether the fiber completed with a value.
func (o Outcome[A]) Succeeded() bool { return o.kind == kindSucceeded }

// Failed reports whether the fiber completed with an error.
func (o Outcome[A]) Failed() bool { return o.kind == kindFailed }

// Canceled reports whether the fiber was canceled.
func (o Outcome[A]) Canceled() bool { return o.kind == kindCanceled }

// Value returns the result value. It is meaningful only when
// Succeeded reports true.
func (o Outcome[A]) Value() A { return o.value }

// Err returns the failure. It is meaningful only when Failed reports
// true.
func (o Outcome[A]) Err() error { return o.err }

func (o Outcome[A]) String() string {
	switch o.kind {
	case kindSucceeded:
		return fmt.Sprintf("Succeeded(%v)", o.value)
	case kindFailed:
		return fmt.Sprintf("Failed(%v)", o.err)
	case kindCanceled:
		return "Canceled"
	default:
		return "Pending"
	}
}

func typedOutcome[A any](oc outcome) Outcome[A] {
	out := Outcome[A]{kind: oc.kind, err: oc.err}
	if oc.kind == kindSucceeded {
		out.value, _ = oc.value.(A)
	}
	return out
}

// outcomeCell is a one-shot completion cell: a single atomic write
// observed by any number of watchers. The first writer wins; a second
// write is an invariant violation surfaced by the caller.
type outcomeCell struct {
	mu      sync.Mutex
	done    bool
	oc      outcome
	nextID  int
	waiters map[int]func(outcome)
}

// complete records the terminal outcome and notifies every watcher.
// It reports false when an outcome was already recorded.
func (c *outcomeCell) complete(oc outcome) bool {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return false
	}
	c.done = true
	c.oc = oc
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range ws {
		w(oc)
	}
	return true
}

// watch registers fn to run once the cell completes. If the cell is
// already complete, fn runs immediately on the calling thread. The
// returned function deregisters fn; it is a no-op after delivery.
func (c *outcomeCell) watch(fn func(outcome)) func() {
	c.mu.Lock()
	if c.done {
		oc := c.oc
		c.mu.Unlock()
		fn(oc)
		return func() {}
	}
	if c.waiters == nil {
		c.waiters = make(map[int]func(outcome))
	}
	id := c.nextID
	c.nextID++
	c.waiters[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}
}

// peek returns the recorded outcome, if any.
func (c *outcomeCell) peek() (outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oc, c.done
}
