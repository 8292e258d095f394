package fio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoizeRunsOnce(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var runs atomic.Int32
	memo := Memoize(Delay(func() (int, error) {
		runs.Add(1)
		return 42, nil
	}))

	for i := 0; i < 3; i++ {
		oc, err := RunSync(rt, memo, 2*time.Second)
		r.NoError(err)
		r.Equal(42, oc.Value())
	}
	r.Equal(int32(1), runs.Load())
}

func TestMemoizeSharesInFlightRun(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var runs atomic.Int32
	memo := Memoize(Then(Sleep(30*time.Millisecond), Delay(func() (int, error) {
		runs.Add(1)
		return 7, nil
	})))

	const n = 10
	chs := make([]<-chan Outcome[int], n)
	for i := range chs {
		chs[i] = ToChannel(rt, memo)
	}
	for _, ch := range chs {
		select {
		case oc := <-ch:
			r.True(oc.Succeeded())
			r.Equal(7, oc.Value())
		case <-time.After(5 * time.Second):
			t.Fatal("memoized run never finished")
		}
	}
	r.Equal(int32(1), runs.Load())
}

func TestMemoizeSharesFailure(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	boom := errors.New("boom")
	var runs atomic.Int32
	memo := Memoize(Delay(func() (int, error) {
		runs.Add(1)
		return 0, boom
	}))

	for i := 0; i < 2; i++ {
		oc, err := RunSync(rt, memo, 2*time.Second)
		r.NoError(err)
		r.True(oc.Failed())
		r.ErrorIs(oc.Err(), boom)
	}
	r.Equal(int32(1), runs.Load())
}

func TestMemoizeCanceledRunnerRetries(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var runs atomic.Int32
	started := make(chan struct{}, 1)
	memo := Memoize(Then(Void(func() error {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		return nil
	}), Then(Sleep(100*time.Millisecond), Pure(5))))

	// Cancel the first fiber mid-run. The memo resets instead of
	// latching a canceled result, so a later run starts fresh.
	fb := Spawn(rt, memo)
	<-started
	_, err := RunSync(rt, fb.Cancel(), 2*time.Second)
	r.NoError(err)

	oc, err := RunSync(rt, memo, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.Equal(5, oc.Value())
	r.Equal(int32(2), runs.Load())
}
