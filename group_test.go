package fio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupWaitsForAllChildren(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	g := NewGroup()
	var done atomic.Int32
	child := Then(Sleep(10*time.Millisecond), Void(func() error {
		done.Add(1)
		return nil
	}))

	io := Then(g.Go(child), Then(g.Go(child), Then(g.Go(child), g.Wait())))

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.Equal(int32(3), done.Load())
	r.NoError(g.Err())
}

func TestGroupFirstErrorCancelsSiblings(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	boom := errors.New("boom")

	var siblingCanceled atomic.Bool
	sibling := OnCancel(Never[Unit](), Void(func() error {
		siblingCanceled.Store(true)
		return nil
	}))
	failing := Then(Sleep(10*time.Millisecond), Error[Unit](boom))

	g := NewGroup()
	io := Then(g.Go(sibling), Then(g.Go(failing), g.Wait()))

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())
	r.ErrorIs(oc.Err(), boom)

	// Wait only returns after every child terminated, so the
	// sibling's cancellation finalizer has already fired.
	r.True(siblingCanceled.Load())
	r.ErrorIs(g.Err(), boom)
}

func TestGroupKeepsFirstError(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	first := errors.New("first")
	second := errors.New("second")

	g := NewGroup()
	io := Then(
		g.Go(Then(Sleep(5*time.Millisecond), Error[Unit](first))),
		Then(
			g.Go(Then(Sleep(150*time.Millisecond), Error[Unit](second))),
			g.Wait(),
		),
	)

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())
	r.ErrorIs(oc.Err(), first)
	r.NotErrorIs(oc.Err(), second)
}

func TestGroupEmptyWait(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	g := NewGroup()
	oc, err := RunSync(rt, g.Wait(), time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
}
