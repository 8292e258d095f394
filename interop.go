package fio

// ToChannel begins executing io immediately and returns a channel
// that delivers the terminal outcome exactly once. The channel is the
// externally-awaitable handle for embedding fio into channel-based
// code.
func ToChannel[A any](rt *Runtime, io IO[A]) <-chan Outcome[A] {
	ch := make(chan Outcome[A], 1)
	RunAsync(rt, io, func(oc Outcome[A]) { ch <- oc })
	return ch
}

// FromChannel converts an outcome channel back into an IO. Running
// the IO suspends until the channel delivers, then resumes with the
// value or the failure; a Canceled outcome cancels the consuming
// fiber. FromChannel(ToChannel(rt, io)) behaves like io
// itself.
func FromChannel[A any](ch <-chan Outcome[A]) IO[A] {
	return IO[A]{n: &node{tag: tagAsync, register: func(_ *fiber, complete completeFunc) func() {
		abandon := make(chan struct{})
		go func() {
			select {
			case <-abandon:
			case oc, ok := <-ch:
				switch {
				case !ok:
					complete(nil, ErrNoOutcome)
				case oc.Canceled():
					complete(nil, errCanceledSignal)
				case oc.Failed():
					complete(nil, oc.Err())
				default:
					complete(oc.Value(), nil)
				}
			}
		}()
		return func() { close(abandon) }
	}}}
}
