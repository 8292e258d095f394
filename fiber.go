package fio

import (
	"context"
	"runtime/trace"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// Fiber is the join handle for one in-flight execution of an IO. It
// is a shared, non-owning reference: it observes the fiber's terminal
// outcome and requests cancellation, nothing more.
type Fiber[A any] struct {
	f *fiber
}

// Join yields an IO that suspends the calling fiber until this fiber
// reaches a terminal outcome, then resumes with it: the value on
// success, the error on failure. If this fiber was canceled, the
// cancellation propagates and the joiner is canceled too. Any number
// of concurrent joins observe the same outcome.
func (fb *Fiber[A]) Join() IO[A] {
	return IO[A]{n: &node{tag: tagJoin, fiber: fb.f}}
}

// Cancel yields an IO that requests cancellation of this fiber and
// completes once cancellation has taken effect, after the target's
// finalizers have run. Requesting cancellation is idempotent.
func (fb *Fiber[A]) Cancel() IO[Unit] {
	return IO[Unit]{n: &node{tag: tagCancel, fiber: fb.f}}
}

// Outcome returns the recorded terminal outcome, if there is one.
func (fb *Fiber[A]) Outcome() (Outcome[A], bool) {
	oc, ok := fb.f.cell.peek()
	if !ok {
		return Outcome[A]{}, false
	}
	return typedOutcome[A](oc), true
}

// Fiber ownership states, packed into the low bits of the state
// word. Exactly one party may run a fiber at any instant; the states
// arbitrate the handoff at suspension points. The remaining bits hold
// a park generation, advanced on every suspension, so a resumption
// issued for an abandoned park can never land on a later one.
const (
	stateRunning uint64 = iota
	stateSuspending
	stateSuspended
	stateResumed
	stateDone

	stateMask = 0x7
	genStep   = stateMask + 1
)

type contKind uint8

const (
	contBind contKind = iota
	contHandle
	contRestore
	contPopFin
	contFinExit
	contProc
)

// cont is one frame of the continuation stack.
type cont struct {
	kind   contKind
	bind   func(any) *node
	handle func(error) *node
	exec   Executor
	pendV  any
	pendE  error
	proc   *Proc
}

// finEntry is one registered finalizer. onExit entries (Guarantee)
// run on every exit of their scope; the rest (OnCancel) run only on
// cancellation.
type finEntry struct {
	n      *node
	onExit bool
}

// fiber is one in-flight execution. The continuation and finalizer
// stacks are touched only by the thread currently running the fiber;
// the state machine, cancellation token and outcome cell are the only
// state shared across threads.
type fiber struct {
	rt   *Runtime
	exec Executor
	ctx  context.Context
	task *trace.Task

	cur   *node
	conts deque.Deque[cont]
	fins  deque.Deque[finEntry]

	state      atomic.Uint64
	canceled   atomic.Bool
	masked     atomic.Int32
	cancelHook func()

	hasResume bool
	resumeVal any
	resumeErr error

	finalizing bool
	finErrs    []error

	cell outcomeCell
}

func newFiber(rt *Runtime, exec Executor, n *node) *fiber {
	ctx, task := trace.NewTask(context.Background(), fiberTraceTaskType)
	return &fiber{rt: rt, exec: exec, ctx: ctx, task: task, cur: n}
}

func (f *fiber) schedule() {
	f.exec.Submit(f.run)
}

// requestCancel sets the cancellation token. The fiber observes it at
// its next safe point; if it is parked at a suspension, the first
// cancel request also wakes it so the finalizers run promptly.
func (f *fiber) requestCancel() {
	if f.canceled.CompareAndSwap(false, true) {
		f.wakeForCancel()
	}
}

// wakeForCancel unparks a suspended fiber onto the cancellation path,
// canceling its pending timer or async registration. It loses cleanly
// to a genuine resumption racing in at the same moment. The park
// generation is preserved, so a completion for the abandoned park is
// rejected by resumeWith from then on.
func (f *fiber) wakeForCancel() {
	for {
		cur := f.state.Load()
		if cur&stateMask != stateSuspended {
			return
		}
		if f.masked.Load() > 0 {
			// Parked inside a Guarantee finalizer; it must finish.
			// The flag is observed at the next safe point.
			return
		}
		if f.state.CompareAndSwap(cur, cur&^stateMask|stateRunning) {
			hook := f.cancelHook
			f.cancelHook = nil
			if hook != nil {
				hook()
			}
			f.hasResume = false
			f.exec.Submit(f.run)
			return
		}
	}
}

// resumeWith delivers the result of the suspension identified by gen.
// If the fiber has not finished parking yet, the result is stashed
// and the fiber continues synchronously; otherwise the fiber is
// re-submitted to its current executor. A resumption whose park was
// already abandoned or superseded is dropped.
func (f *fiber) resumeWith(gen uint64, v any, err error) {
	for {
		cur := f.state.Load()
		if cur&^stateMask != gen {
			return
		}
		switch cur & stateMask {
		case stateSuspending:
			f.resumeVal, f.resumeErr, f.hasResume = v, err, true
			if f.state.CompareAndSwap(cur, gen|stateResumed) {
				return
			}
		case stateSuspended:
			if f.state.CompareAndSwap(cur, gen|stateRunning) {
				f.cancelHook = nil
				f.resumeVal, f.resumeErr, f.hasResume = v, err, true
				f.log("RESUME")
				f.exec.Submit(f.run)
				return
			}
		default:
			return
		}
	}
}

// park suspends the fiber and invokes register to arrange its
// resumption. It reports true when the fiber actually parked; false
// means the completion arrived before the park finished and the
// resumption is already stashed for synchronous consumption.
func (f *fiber) park(register func(complete completeFunc) func()) bool {
	gen := (f.state.Load() &^ stateMask) + genStep
	f.state.Store(gen | stateSuspending)

	done := new(atomic.Bool)
	complete := func(v any, err error) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		f.resumeWith(gen, v, err)
	}

	hook := func() (h func()) {
		defer func() {
			if p := recover(); p != nil {
				complete(nil, newPanicError(p))
			}
		}()
		return register(complete)
	}()
	f.cancelHook = hook

	if f.state.CompareAndSwap(gen|stateSuspending, gen|stateSuspended) {
		f.log("SUSPEND")
		if f.canceled.Load() && !f.finalizing && f.masked.Load() == 0 {
			// Cancellation arrived during registration, when no waker
			// could see a parked fiber yet. Chase it ourselves.
			f.wakeForCancel()
		}
		return true
	}

	// Completed before parking finished; continue synchronously.
	f.cancelHook = nil
	f.state.Store(gen | stateRunning)
	return false
}

const (
	modeEval = iota
	modeSucceed
	modeFail
)

// consumeResume interprets a stashed resumption into the next loop
// mode. A cancellation signal routes through the loop-top safe point.
func (f *fiber) consumeResume() (int, any, error) {
	f.hasResume = false
	v, err := f.resumeVal, f.resumeErr
	f.resumeVal, f.resumeErr = nil, nil
	switch {
	case err == errCanceledSignal:
		f.canceled.Store(true)
		if f.finalizing || f.masked.Load() > 0 {
			// A finalizer joined a canceled fiber; it must still run
			// to completion, so the signal only leaves the flag set.
			return modeSucceed, nil, nil
		}
		return modeEval, nil, nil
	case err != nil:
		return modeFail, nil, err
	default:
		return modeSucceed, v, nil
	}
}

// run drives the fiber until it completes, suspends or yields. It is
// the trampoline: pure transformations execute synchronously in
// batches bounded by the runtime's fairness limit, and every
// asynchronous boundary returns control to the executor.
func (f *fiber) run() {
	if f.state.Load()&stateMask == stateDone {
		return
	}

	mode := modeEval
	var v any
	var err error

	if f.hasResume {
		mode, v, err = f.consumeResume()
	}

	for steps := 0; ; {
		switch mode {
		case modeEval:
			// Safe point: cancellation and fairness share it. An
			// in-flight Guarantee finalizer masks the cancel check
			// until its scope exits.
			if f.canceled.Load() && !f.finalizing && f.masked.Load() == 0 {
				f.log("CANCEL")
				f.beginFinalize()
				mode, v, err = modeSucceed, nil, nil
				continue
			}
			steps++
			if steps > f.rt.fairness {
				f.log("YIELD")
				f.exec.Submit(f.run)
				return
			}

			n := f.cur
			switch n.tag {
			case tagPure:
				mode, v = modeSucceed, n.value

			case tagError:
				mode, err = modeFail, n.err

			case tagDelay:
				v, err = protect(n.thunk)
				if err != nil {
					mode = modeFail
				} else {
					mode = modeSucceed
				}

			case tagDefer:
				next, perr := protectMake(n.make)
				if perr != nil {
					mode, err = modeFail, perr
				} else {
					f.cur = next
				}

			case tagFlatMap:
				f.conts.PushBack(cont{kind: contBind, bind: n.bind})
				f.cur = n.src

			case tagHandle:
				f.conts.PushBack(cont{kind: contHandle, handle: n.handle})
				f.cur = n.src

			case tagOnCancel:
				f.fins.PushBack(finEntry{n: n.fin})
				f.conts.PushBack(cont{kind: contPopFin})
				f.cur = n.src

			case tagGuarantee:
				f.fins.PushBack(finEntry{n: n.fin, onExit: true})
				f.conts.PushBack(cont{kind: contPopFin})
				f.cur = n.src

			case tagEvalOn:
				if n.exec == nil || n.exec == f.exec {
					f.cur = n.src
					continue
				}
				f.conts.PushBack(cont{kind: contRestore, exec: f.exec})
				f.exec = n.exec
				f.cur = n.src
				f.log("SHIFT")
				f.exec.Submit(f.run)
				return

			case tagCurrent:
				mode, v = modeSucceed, f.exec

			case tagCede:
				f.resumeVal, f.hasResume = Unit{}, true
				f.exec.Submit(f.run)
				return

			case tagSleep:
				d := n.d
				if f.park(func(complete completeFunc) func() {
					h := f.rt.timer.ScheduleAfter(d, func() {
						complete(Unit{}, nil)
					})
					return h.Cancel
				}) {
					return
				}
				mode, v, err = f.consumeResume()

			case tagAsync:
				reg := n.register
				if f.park(func(complete completeFunc) func() {
					return reg(f, complete)
				}) {
					return
				}
				mode, v, err = f.consumeResume()

			case tagStart:
				child := newFiber(f.rt, f.exec, n.src)
				child.schedule()
				mode, v = modeSucceed, n.wrap(child)

			case tagJoin:
				target := n.fiber
				if f.park(func(complete completeFunc) func() {
					return target.cell.watch(func(oc outcome) {
						switch oc.kind {
						case kindSucceeded:
							complete(oc.value, nil)
						case kindFailed:
							complete(nil, oc.err)
						default:
							complete(nil, errCanceledSignal)
						}
					})
				}) {
					return
				}
				mode, v, err = f.consumeResume()

			case tagCancel:
				target := n.fiber
				target.requestCancel()
				if f.park(func(complete completeFunc) func() {
					return target.cell.watch(func(outcome) {
						complete(Unit{}, nil)
					})
				}) {
					return
				}
				mode, v, err = f.consumeResume()

			case tagProc:
				mode, v, err = f.beginProc(n.proc)

			default:
				panic("fio: unknown node tag")
			}

		case modeSucceed:
			if f.conts.Len() == 0 {
				if f.finalizing {
					if next, ok := f.nextFinalizer(); ok {
						f.cur, mode = next, modeEval
						continue
					}
					f.complete(outcome{kind: kindCanceled})
					return
				}
				f.complete(outcome{kind: kindSucceeded, value: v})
				return
			}

			c := f.conts.PopBack()
			switch c.kind {
			case contBind:
				next, perr := protectBind(c.bind, v)
				if perr != nil {
					mode, err = modeFail, perr
					continue
				}
				f.cur, mode = next, modeEval

			case contHandle:
				// No error to handle.

			case contRestore:
				if c.exec != f.exec {
					f.exec = c.exec
					f.resumeVal, f.hasResume = v, true
					f.log("RESTORE")
					f.exec.Submit(f.run)
					return
				}

			case contPopFin:
				fe := f.fins.PopBack()
				if fe.onExit {
					f.masked.Add(1)
					f.conts.PushBack(cont{kind: contFinExit, pendV: v})
					f.cur, mode = fe.n, modeEval
				}

			case contFinExit:
				f.masked.Add(-1)
				v, err = c.pendV, c.pendE
				if err != nil {
					mode = modeFail
				}

			case contProc:
				mode, v, err = f.stepProc(c.proc, procIn{val: v})
			}

		case modeFail:
			if f.conts.Len() == 0 {
				if f.finalizing {
					f.finErrs = append(f.finErrs, err)
					if next, ok := f.nextFinalizer(); ok {
						f.cur, mode = next, modeEval
						continue
					}
					f.complete(outcome{kind: kindCanceled})
					return
				}
				f.complete(outcome{kind: kindFailed, err: err})
				return
			}

			c := f.conts.PopBack()
			switch c.kind {
			case contBind:
				// Short-circuit past the bind.

			case contHandle:
				next, perr := protectHandle(c.handle, err)
				if perr != nil {
					err = perr
					continue
				}
				f.cur, mode, err = next, modeEval, nil

			case contRestore:
				if c.exec != f.exec {
					f.exec = c.exec
					f.resumeErr, f.hasResume = err, true
					f.exec.Submit(f.run)
					return
				}

			case contPopFin:
				fe := f.fins.PopBack()
				if fe.onExit {
					f.masked.Add(1)
					f.conts.PushBack(cont{kind: contFinExit, pendE: err})
					f.cur, mode, err = fe.n, modeEval, nil
				}

			case contFinExit:
				// A failure escaping a finalizer is collected; the
				// pending result it interrupted resumes.
				f.masked.Add(-1)
				f.reportFinalizerError(err)
				v, err = c.pendV, c.pendE
				if err != nil {
					mode = modeFail
				} else {
					mode = modeSucceed
				}

			case contProc:
				mode, v, err = f.stepProc(c.proc, procIn{err: err})
			}
		}
	}
}

// beginFinalize abandons the remaining continuation and switches the
// loop to draining the finalizer stack.
func (f *fiber) beginFinalize() {
	f.finalizing = true
	f.conts.Clear()
}

// nextFinalizer pops the next finalizer to run during cancellation.
// Both OnCancel and Guarantee entries run, LIFO.
func (f *fiber) nextFinalizer() (*node, bool) {
	if f.fins.Len() == 0 {
		return nil, false
	}
	fe := f.fins.PopBack()
	return fe.n, true
}

func (f *fiber) reportFinalizerError(err error) {
	f.rt.sink(err)
}

// complete records the terminal outcome, releases the fiber's
// resources and notifies every watcher. A second completion is a
// scheduler invariant violation and panics.
func (f *fiber) complete(oc outcome) {
	f.state.Store(f.state.Load()&^stateMask | stateDone)
	if len(f.finErrs) > 0 {
		f.rt.sink(&CompositeError{Errors: f.finErrs})
		f.finErrs = nil
	}
	f.conts.Clear()
	f.fins.Clear()
	f.cancelHook = nil
	f.logf("DONE %d", oc.kind)
	f.task.End()
	if !f.cell.complete(oc) {
		panic("fio: fiber completed twice")
	}
}

// awaitTermination yields an IO completing with Unit once target
// reaches any terminal outcome, without propagating it.
func awaitTermination(target *fiber) IO[Unit] {
	return IO[Unit]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		return target.cell.watch(func(outcome) {
			complete(Unit{}, nil)
		})
	}}}
}
