package fio

import "github.com/webriots/coro"

// Proc is the handle passed to a Procedure body. It lets imperative
// code await IOs: each Await suspends the body's coroutine while the
// owning fiber evaluates the awaited IO, then resumes it with the
// result. A Proc must only be used from within its own body.
type Proc struct {
	resume func(procIn) (procOut, bool)
	yield  func(procOut) procIn
	val    any
	err    error
}

// procOut is what the coroutine yields to the fiber: the IO it is
// awaiting.
type procOut struct {
	n *node
}

// procIn is what the fiber passes back on resumption.
type procIn struct {
	val any
	err error
}

// Procedure runs fn as an IO. The body executes on a coroutine owned
// by the running fiber, so it may interleave plain Go control flow
// with Await calls. If the fiber is canceled while the body awaits,
// the coroutine is torn down.
func Procedure[A any](fn func(*Proc) (A, error)) IO[A] {
	return IO[A]{n: &node{tag: tagProc, proc: func(p *Proc) (any, error) {
		return fn(p)
	}}}
}

// Await runs io from within a Procedure body and returns its result.
// A failure of io is returned as the error; the body decides whether
// to recover or propagate it.
func Await[A any](p *Proc, io IO[A]) (A, error) {
	in := p.yield(procOut{n: io.n})
	if in.err != nil {
		var zero A
		return zero, in.err
	}
	v, _ := in.val.(A)
	return v, nil
}

// beginProc starts the coroutine for a Procedure node and performs
// its first step. A cancel-only finalizer tears the coroutine down if
// the fiber is canceled mid-await.
func (f *fiber) beginProc(body func(*Proc) (any, error)) (int, any, error) {
	p := &Proc{}

	resume, cancel := coro.New(
		func(yield func(procOut) procIn, _ func() procIn) (z procOut) {
			p.yield = yield
			p.val, p.err = body(p)
			return
		},
	)
	p.resume = resume

	f.fins.PushBack(finEntry{n: &node{tag: tagDelay, thunk: func() (any, error) {
		cancel()
		return Unit{}, nil
	}}})
	f.conts.PushBack(cont{kind: contPopFin})

	return f.stepProc(p, procIn{})
}

// stepProc resumes the coroutine with the result of the last awaited
// IO and interprets what it does next: await another IO, or finish.
func (f *fiber) stepProc(p *Proc, in procIn) (mode int, v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			mode, v, err = modeFail, nil, newPanicError(rec)
		}
	}()

	out, ok := p.resume(in)
	if !ok {
		if p.err != nil {
			return modeFail, nil, p.err
		}
		return modeSucceed, p.val, nil
	}

	f.conts.PushBack(cont{kind: contProc, proc: p})
	f.cur = out.n
	return modeEval, nil, nil
}
