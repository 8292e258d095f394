package fio

import "time"

const (
	tagPure uint8 = iota
	tagError
	tagDelay
	tagDefer
	tagFlatMap
	tagHandle
	tagOnCancel
	tagGuarantee
	tagEvalOn
	tagAsync
	tagSleep
	tagCede
	tagStart
	tagJoin
	tagCancel
	tagCurrent
	tagProc
)

// completeFunc resumes a suspended fiber with a value or an error.
type completeFunc func(v any, err error)

// node is the untyped representation behind IO. The generic IO
// wrappers insert the casts; inside the runtime every value is any.
type node struct {
	tag      uint8
	value    any
	err      error
	thunk    func() (any, error)
	make     func() *node
	src      *node
	bind     func(any) *node
	handle   func(error) *node
	fin      *node
	exec     Executor
	register func(f *fiber, complete completeFunc) func()
	d        time.Duration
	fiber    *fiber
	wrap     func(*fiber) any
	proc     func(*Proc) (any, error)
}

// IO describes deferred work yielding a value of type A. An IO is an
// immutable value: constructing or combining IOs never executes
// anything, and the same IO may be run any number of times.
type IO[A any] struct {
	n *node
}

// Unit is the result type of effects run purely for their side
// effect.
type Unit struct{}

// Try materializes the result of an Attempt: either a value or the
// error that would have failed the fiber.
type Try[A any] struct {
	Value A
	Err   error
}

// Pure lifts a value into an IO that immediately succeeds with it.
func Pure[A any](a A) IO[A] {
	return IO[A]{n: &node{tag: tagPure, value: a}}
}

// Error lifts an error into an IO that immediately fails with it.
func Error[A any](err error) IO[A] {
	return IO[A]{n: &node{tag: tagError, err: err}}
}

// Delay suspends a side effect. f runs each time the IO runs; a panic
// inside f becomes a failure carrying a PanicError.
func Delay[A any](f func() (A, error)) IO[A] {
	return IO[A]{n: &node{tag: tagDelay, thunk: func() (any, error) {
		v, err := f()
		return v, err
	}}}
}

// Void suspends a side effect with no result.
func Void(f func() error) IO[Unit] {
	return Delay(func() (Unit, error) { return Unit{}, f() })
}

// Defer builds the IO to run at run time. Use it when a description
// needs per-run state.
func Defer[A any](f func() IO[A]) IO[A] {
	return IO[A]{n: &node{tag: tagDefer, make: func() *node { return f().n }}}
}

// Map transforms the result of io with f.
func Map[A, B any](io IO[A], f func(A) B) IO[B] {
	return IO[B]{n: &node{tag: tagFlatMap, src: io.n, bind: func(v any) *node {
		return &node{tag: tagPure, value: f(v.(A))}
	}}}
}

// FlatMap sequences io with the IO produced by f from its result.
func FlatMap[A, B any](io IO[A], f func(A) IO[B]) IO[B] {
	return IO[B]{n: &node{tag: tagFlatMap, src: io.n, bind: func(v any) *node {
		return f(v.(A)).n
	}}}
}

// Then sequences two IOs, discarding the first result.
func Then[A, B any](first IO[A], next IO[B]) IO[B] {
	return FlatMap(first, func(A) IO[B] { return next })
}

// HandleErrorWith recovers from a failure of io with the IO produced
// by f. Successes pass through untouched.
func HandleErrorWith[A any](io IO[A], f func(error) IO[A]) IO[A] {
	return IO[A]{n: &node{tag: tagHandle, src: io.n, handle: func(err error) *node {
		return f(err).n
	}}}
}

// Attempt turns failure into data: the resulting IO always succeeds,
// yielding either the value or the error in a Try.
func Attempt[A any](io IO[A]) IO[Try[A]] {
	ok := Map(io, func(a A) Try[A] { return Try[A]{Value: a} })
	return HandleErrorWith(ok, func(err error) IO[Try[A]] {
		return Pure(Try[A]{Err: err})
	})
}

// OnCancel registers fin to run if the fiber is canceled while io is
// executing. Finalizers run LIFO; a finalizer failure is collected
// and reported through the error sink, never replacing the outcome.
func OnCancel[A any](io IO[A], fin IO[Unit]) IO[A] {
	return IO[A]{n: &node{tag: tagOnCancel, src: io.n, fin: fin.n}}
}

// Guarantee registers fin to run when io finishes for any reason:
// success, failure or cancellation.
func Guarantee[A any](io IO[A], fin IO[Unit]) IO[A] {
	return IO[A]{n: &node{tag: tagGuarantee, src: io.n, fin: fin.n}}
}

// EvalOn runs io with all of its continuations on exec, then shifts
// back to the executor that was active before the call. Nested shifts
// restore the immediately enclosing executor, stack style.
func EvalOn[A any](io IO[A], exec Executor) IO[A] {
	return IO[A]{n: &node{tag: tagEvalOn, src: io.n, exec: exec}}
}

// CurrentExecutor yields the executor the fiber is currently running
// under.
func CurrentExecutor() IO[Executor] {
	return IO[Executor]{n: &node{tag: tagCurrent}}
}

// Async adapts a callback-based asynchronous operation. When the IO
// runs, register is called with a completion callback; the operation
// completes the fiber by invoking it exactly once (later invocations
// are ignored). register may return a cancellation function, called
// if the fiber is canceled while suspended, or nil.
func Async[A any](register func(complete func(A, error)) func()) IO[A] {
	return IO[A]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		return register(func(a A, err error) { complete(a, err) })
	}}}
}

// Never is an IO that never completes. It suspends the fiber
// indefinitely and only cancellation releases it.
func Never[A any]() IO[A] {
	return IO[A]{n: &node{tag: tagAsync, register: func(*fiber, completeFunc) func() {
		return nil
	}}}
}

// Sleep suspends the fiber for at least d, scheduled through the
// runtime's Timer. It never resumes early; canceling the fiber while
// it sleeps cancels the underlying timer registration.
func Sleep(d time.Duration) IO[Unit] {
	return IO[Unit]{n: &node{tag: tagSleep, d: d}}
}

// Cede voluntarily yields the worker, letting other fibers run before
// this one continues.
func Cede() IO[Unit] {
	return IO[Unit]{n: &node{tag: tagCede}}
}

// Forever repeats io indefinitely, discarding its results. The loop
// hits a cancellation safe point on every iteration, so a fiber
// running Forever is always promptly cancelable.
func Forever[A any](io IO[A]) IO[Unit] {
	var loop func(any) *node
	loop = func(any) *node {
		return &node{tag: tagFlatMap, src: io.n, bind: loop}
	}
	return IO[Unit]{n: loop(nil)}
}

// Timeout bounds io by d using Race: if the sleep wins, io is
// canceled (finalizers awaited) and the result is
// ErrDeadlineExceeded.
func Timeout[A any](io IO[A], d time.Duration) IO[A] {
	return FlatMap(Race(io, Sleep(d)), func(r RaceResult[A, Unit]) IO[A] {
		if r.LeftWon {
			return Pure(r.Left)
		}
		return Error[A](ErrDeadlineExceeded)
	})
}

// Start begins independent execution of io on a new fiber, inheriting
// the current executor, and yields its handle without waiting.
func Start[A any](io IO[A]) IO[*Fiber[A]] {
	return IO[*Fiber[A]]{n: &node{tag: tagStart, src: io.n, wrap: func(f *fiber) any {
		return &Fiber[A]{f: f}
	}}}
}
