package fio

import "sync"

// Group coordinates a set of fibers and collects the first error that
// occurs. A child failing claims the group and cancels its siblings;
// Wait joins every child and reports the claimed error.
type Group struct {
	mu     sync.Mutex
	fibers []*fiber
	err    error
	failed bool
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return new(Group)
}

// Go yields an IO that starts io as a child fiber of the group. If
// the group has already failed, the child is canceled immediately
// after starting.
func (g *Group) Go(io IO[Unit]) IO[Unit] {
	guarded := HandleErrorWith(io, func(err error) IO[Unit] {
		return Void(func() error {
			g.fail(err)
			return nil
		})
	})
	return FlatMap(Start(guarded), func(fb *Fiber[Unit]) IO[Unit] {
		return Void(func() error {
			g.track(fb.f)
			return nil
		})
	})
}

// Wait yields an IO that suspends until every child started so far is
// terminal, then fails with the group's first error, if any.
func (g *Group) Wait() IO[Unit] {
	joined := Defer(func() IO[Unit] {
		g.mu.Lock()
		fibers := make([]*fiber, len(g.fibers))
		copy(fibers, g.fibers)
		g.mu.Unlock()

		io := Pure(Unit{})
		for _, f := range fibers {
			io = Then(io, awaitTermination(f))
		}
		return io
	})

	return FlatMap(joined, func(Unit) IO[Unit] {
		return Defer(func() IO[Unit] {
			g.mu.Lock()
			err := g.err
			g.mu.Unlock()
			if err != nil {
				return Error[Unit](err)
			}
			return Pure(Unit{})
		})
	})
}

// Err returns the group's claimed error, if any.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Group) fail(err error) {
	g.mu.Lock()
	if g.failed {
		g.mu.Unlock()
		return
	}
	g.failed = true
	g.err = err
	fibers := make([]*fiber, len(g.fibers))
	copy(fibers, g.fibers)
	g.mu.Unlock()

	for _, f := range fibers {
		f.requestCancel()
	}
}

func (g *Group) track(f *fiber) {
	g.mu.Lock()
	g.fibers = append(g.fibers, f)
	failed := g.failed
	g.mu.Unlock()

	if failed {
		f.requestCancel()
	}
}
