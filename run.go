package fio

import "time"

// DefaultFairness is the number of synchronous steps a fiber may take
// before it is forced to yield its worker.
const DefaultFairness = 1024

// Runtime bundles the executor and timer that drive fibers. A Runtime
// is cheap and stateless; any number may coexist, sharing or not
// sharing adapters.
type Runtime struct {
	exec     Executor
	timer    Timer
	fairness int
	sink     ErrorSink
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFairness overrides the fairness bound: the maximum synchronous
// steps a fiber takes before yielding to the executor.
func WithFairness(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.fairness = n
		}
	}
}

// WithErrorSink routes finalizer failures and other orphaned errors
// to sink instead of the standard logger.
func WithErrorSink(sink ErrorSink) Option {
	return func(rt *Runtime) {
		if sink != nil {
			rt.sink = sink
		}
	}
}

// New creates a Runtime over the given executor and timer.
func New(exec Executor, timer Timer, opts ...Option) *Runtime {
	rt := &Runtime{
		exec:     exec,
		timer:    timer,
		fairness: DefaultFairness,
		sink:     defaultSink,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Spawn allocates a fiber for io, hands it to the executor and
// returns its handle without blocking.
func Spawn[A any](rt *Runtime, io IO[A]) *Fiber[A] {
	f := newFiber(rt, rt.exec, io.n)
	f.schedule()
	return &Fiber[A]{f: f}
}

// RunAsync begins executing io immediately and invokes cb exactly
// once with the terminal outcome. It never blocks the caller; cb runs
// on whichever thread completes the fiber.
func RunAsync[A any](rt *Runtime, io IO[A], cb func(Outcome[A])) {
	f := newFiber(rt, rt.exec, io.n)
	f.cell.watch(func(oc outcome) { cb(typedOutcome[A](oc)) })
	f.schedule()
}

// RunSync executes io to completion and returns its outcome, blocking
// the caller. A positive budget bounds the wait: if it elapses first,
// the fiber is canceled, its finalizers are awaited, and RunSync
// returns ErrDeadlineExceeded rather than a Canceled outcome, never
// leaking a still-running fiber. A non-positive budget waits
// indefinitely.
func RunSync[A any](rt *Runtime, io IO[A], budget time.Duration) (Outcome[A], error) {
	f := newFiber(rt, rt.exec, io.n)
	ch := make(chan outcome, 1)
	f.cell.watch(func(oc outcome) { ch <- oc })
	f.schedule()

	if budget <= 0 {
		return typedOutcome[A](<-ch), nil
	}

	t := time.NewTimer(budget)
	defer t.Stop()
	select {
	case oc := <-ch:
		return typedOutcome[A](oc), nil
	case <-t.C:
		f.requestCancel()
		<-ch
		return Outcome[A]{}, ErrDeadlineExceeded
	}
}
