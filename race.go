package fio

import "sync"

// RaceResult reports the winning branch of a Race.
type RaceResult[A, B any] struct {
	Left    A
	Right   B
	LeftWon bool
}

// Race runs left and right concurrently on two fresh fibers. The
// first to reach a terminal non-canceled outcome wins; the loser is
// sent a cancellation request and its finalizers are awaited before
// Race completes, so a loser never outlives the race. A winning
// failure fails the race. Under a true tie either branch may win;
// which one is deliberately unspecified. If both branches end up
// canceled, the race itself completes canceled. Canceling the racing
// fiber cancels both branches and awaits them.
func Race[A, B any](left IO[A], right IO[B]) IO[RaceResult[A, B]] {
	wrapL := func(v any) any { return RaceResult[A, B]{Left: v.(A), LeftWon: true} }
	wrapR := func(v any) any { return RaceResult[A, B]{Right: v.(B)} }
	return IO[RaceResult[A, B]]{n: raceNode(left.n, right.n, wrapL, wrapR)}
}

func raceNode(left, right *node, wrapL, wrapR func(any) any) *node {
	// Each run gets its own race state, so the same description can
	// race any number of times.
	return &node{tag: tagDefer, make: func() *node {
		st := &raceState{winner: -1}

		body := &node{tag: tagAsync, register: func(f *fiber, complete completeFunc) func() {
			fl := newFiber(f.rt, f.exec, left)
			fr := newFiber(f.rt, f.exec, right)
			st.arm(fl, fr)
			fl.cell.watch(func(oc outcome) { st.report(0, oc, wrapL, complete) })
			fr.cell.watch(func(oc outcome) { st.report(1, oc, wrapR, complete) })
			fl.schedule()
			fr.schedule()
			return nil
		}}

		// If the racing fiber is canceled, this finalizer cancels
		// both branches and waits for them to settle.
		fin := &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
			st.onSettled(func() { complete(Unit{}, nil) })
			return nil
		}}

		return &node{tag: tagOnCancel, src: body, fin: fin}
	}}
}

// raceState arbitrates the race decision: a single guarded claim of
// the winner, and completion once both branches are terminal.
type raceState struct {
	mu       sync.Mutex
	fibers   [2]*fiber
	done     [2]bool
	winner   int
	winOC    outcome
	winWrap  func(any) any
	armed    bool
	finished bool
	settled  []func()
}

func (st *raceState) arm(fl, fr *fiber) {
	st.mu.Lock()
	st.fibers[0], st.fibers[1] = fl, fr
	st.armed = true
	st.mu.Unlock()
}

func (st *raceState) report(side int, oc outcome, wrap func(any) any, complete completeFunc) {
	st.mu.Lock()
	st.done[side] = true

	var toCancel *fiber
	if st.winner < 0 && oc.kind != kindCanceled {
		st.winner = side
		st.winOC = oc
		st.winWrap = wrap
		if !st.done[1-side] {
			toCancel = st.fibers[1-side]
		}
	}

	bothDone := st.done[0] && st.done[1]
	var fire bool
	var winner int
	var winOC outcome
	var winWrap func(any) any
	var settled []func()
	if bothDone {
		st.finished = true
		fire = true
		winner, winOC, winWrap = st.winner, st.winOC, st.winWrap
		settled = st.settled
		st.settled = nil
	}
	st.mu.Unlock()

	if toCancel != nil {
		toCancel.requestCancel()
	}
	if fire {
		switch {
		case winner < 0:
			complete(nil, errCanceledSignal)
		case winOC.kind == kindFailed:
			complete(nil, winOC.err)
		default:
			complete(winWrap(winOC.value), nil)
		}
		for _, fn := range settled {
			fn()
		}
	}
}

// onSettled runs fn once every branch is terminal, requesting
// cancellation of any branch still in flight. If the race never
// started, fn runs immediately.
func (st *raceState) onSettled(fn func()) {
	st.mu.Lock()
	if !st.armed || st.finished {
		st.mu.Unlock()
		fn()
		return
	}
	st.settled = append(st.settled, fn)
	fl, fr := st.fibers[0], st.fibers[1]
	st.mu.Unlock()

	fl.requestCancel()
	fr.requestCancel()
}
