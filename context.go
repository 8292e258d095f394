package fio

import "context"

// WithContext binds io to a context.Context: if ctx is done before io
// completes, io's fiber is canceled, its finalizers are awaited, and
// the result is the context's cause. Internally this is a Race
// between io and a watcher that fails when ctx is done, so Race's
// cancel-the-loser guarantee applies unchanged.
func WithContext[A any](ctx context.Context, io IO[A]) IO[A] {
	watch := IO[A]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		stop := context.AfterFunc(ctx, func() {
			complete(nil, context.Cause(ctx))
		})
		return func() { stop() }
	}}}

	return Map(Race(io, watch), func(r RaceResult[A, A]) A {
		// The watcher never succeeds, so only the left branch can win
		// with a value.
		return r.Left
	})
}
