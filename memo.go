package fio

import "sync"

type memoState uint8

const (
	memoIdle memoState = iota
	memoRunning
	memoDone
)

// memoCell records the single shared execution of a memoized IO:
// the first runner executes, everyone else waits on the recorded
// outcome. A runner canceled mid-flight resets the cell so a waiter
// can retry.
type memoCell struct {
	mu      sync.Mutex
	state   memoState
	oc      outcome
	nextID  int
	waiters map[int]func(outcome)
}

// Memoize returns an IO that runs io at most once. The first run
// executes io and records the result; every concurrent or later run
// shares that recorded success or failure. If the first runner is
// canceled before finishing, the cell resets and the next run
// executes io again.
func Memoize[A any](io IO[A]) IO[A] {
	cell := &memoCell{}
	src := io.n

	var memo *node
	memo = &node{tag: tagDefer, make: func() *node {
		cell.mu.Lock()
		switch cell.state {
		case memoDone:
			oc := cell.oc
			cell.mu.Unlock()
			return settledNode(oc)
		case memoRunning:
			cell.mu.Unlock()
			return memoWaitNode(cell, memo)
		default:
			cell.state = memoRunning
			cell.mu.Unlock()
			return memoRunNode(cell, src)
		}
	}}
	return IO[A]{n: memo}
}

// memoRunNode executes src, publishing its success or failure to the
// cell. Cancellation of the runner resets the cell and releases the
// waiters to retry.
func memoRunNode(cell *memoCell, src *node) *node {
	published := &node{tag: tagFlatMap, src: src, bind: func(v any) *node {
		cell.publish(outcome{kind: kindSucceeded, value: v})
		return &node{tag: tagPure, value: v}
	}}
	caught := &node{tag: tagHandle, src: published, handle: func(err error) *node {
		cell.publish(outcome{kind: kindFailed, err: err})
		return &node{tag: tagError, err: err}
	}}
	reset := &node{tag: tagDelay, thunk: func() (any, error) {
		cell.reset()
		return Unit{}, nil
	}}
	return &node{tag: tagOnCancel, src: caught, fin: reset}
}

// memoWaitNode suspends until the cell publishes, then either settles
// with the recorded outcome or retries the memo after a reset.
func memoWaitNode(cell *memoCell, retry *node) *node {
	wait := &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		cell.mu.Lock()
		if cell.state == memoDone {
			oc := cell.oc
			cell.mu.Unlock()
			complete(oc, nil)
			return nil
		}
		if cell.waiters == nil {
			cell.waiters = make(map[int]func(outcome))
		}
		id := cell.nextID
		cell.nextID++
		cell.waiters[id] = func(oc outcome) { complete(oc, nil) }
		cell.mu.Unlock()
		return func() {
			cell.mu.Lock()
			delete(cell.waiters, id)
			cell.mu.Unlock()
		}
	}}
	return &node{tag: tagFlatMap, src: wait, bind: func(v any) *node {
		oc := v.(outcome)
		if oc.kind == kindCanceled {
			// The runner was canceled; race for the next execution.
			return retry
		}
		return settledNode(oc)
	}}
}

func settledNode(oc outcome) *node {
	switch oc.kind {
	case kindSucceeded:
		return &node{tag: tagPure, value: oc.value}
	case kindFailed:
		return &node{tag: tagError, err: oc.err}
	default:
		return &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
			complete(nil, errCanceledSignal)
			return nil
		}}
	}
}

func (c *memoCell) publish(oc outcome) {
	c.mu.Lock()
	c.state = memoDone
	c.oc = oc
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range ws {
		w(oc)
	}
}

// reset returns the cell to idle and wakes waiters with a canceled
// marker, telling them to retry.
func (c *memoCell) reset() {
	c.mu.Lock()
	if c.state == memoDone {
		c.mu.Unlock()
		return
	}
	c.state = memoIdle
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range ws {
		w(outcome{kind: kindCanceled})
	}
}
