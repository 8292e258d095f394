package fio

import (
	"log"
	"runtime"
	"sync"

	"github.com/gammazero/deque"
)

// Executor accepts units of work and schedules them for asynchronous
// execution. Submit must not run fn on the caller's own stack, and
// two submissions carry no ordering guarantee beyond each eventually
// running at most once. Executors are compared by identity when the
// runtime decides whether a context shift requires a re-submission.
type Executor interface {
	Submit(fn func())
}

// ErrorSink receives errors that have no fiber left to report to:
// panics escaping submitted work, finalizer failures, work submitted
// after shutdown.
type ErrorSink func(error)

func defaultSink(err error) {
	log.Printf("fio: %v", err)
}

type executorConfig struct {
	sink ErrorSink
}

// ExecutorOption configures an executor adapter.
type ExecutorOption func(*executorConfig)

// WithSink routes executor-level errors to sink instead of the
// standard logger.
func WithSink(sink ErrorSink) ExecutorOption {
	return func(c *executorConfig) { c.sink = sink }
}

// PoolExecutor runs submitted work on a fixed pool of worker
// goroutines fed from a shared queue.
type PoolExecutor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque[func()]
	closed bool
	sink   ErrorSink
	wg     sync.WaitGroup
}

// NewPoolExecutor creates a PoolExecutor with the given number of
// workers. A non-positive count defaults to GOMAXPROCS.
func NewPoolExecutor(workers int, opts ...ExecutorOption) *PoolExecutor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cfg := executorConfig{sink: defaultSink}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &PoolExecutor{sink: cfg.sink}
	e.cond = sync.NewCond(&e.mu)

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Submit queues fn for execution by a pool worker. After Close, fn is
// dropped and ErrExecutorClosed goes to the sink.
func (e *PoolExecutor) Submit(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.sink(ErrExecutorClosed)
		return
	}
	e.queue.PushBack(fn)
	e.mu.Unlock()
	e.cond.Signal()
}

// Close stops accepting work, drains the queue and waits for the
// workers to exit.
func (e *PoolExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

func (e *PoolExecutor) worker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.queue.Len() == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.queue.PopFront()
		e.mu.Unlock()
		invoke(fn, e.sink)
	}
}

// GoExecutor runs each submitted unit of work on its own goroutine.
type GoExecutor struct {
	sink   ErrorSink
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewGoExecutor creates a GoExecutor.
func NewGoExecutor(opts ...ExecutorOption) *GoExecutor {
	cfg := executorConfig{sink: defaultSink}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GoExecutor{sink: cfg.sink}
}

// Submit runs fn on a fresh goroutine. After Close, fn is dropped and
// ErrExecutorClosed goes to the sink.
func (e *GoExecutor) Submit(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.sink(ErrExecutorClosed)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		invoke(fn, e.sink)
	}()
}

// Close stops accepting work and waits for in-flight goroutines.
func (e *GoExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func invoke(fn func(), sink ErrorSink) {
	defer func() {
		if p := recover(); p != nil {
			sink(newPanicError(p))
		}
	}()
	fn()
}
