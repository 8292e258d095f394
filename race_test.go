package fio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRaceFirstToFinishWins(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	io := Race(Never[int](), Then(Sleep(10*time.Millisecond), Pure("fast")))

	start := time.Now()
	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.False(oc.Value().LeftWon)
	r.Equal("fast", oc.Value().Right)
	r.Less(time.Since(start), time.Second)
}

func TestRaceLoserIsCanceledBeforeCompletion(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var loserCanceled atomic.Bool
	loser := OnCancel(Never[int](), Void(func() error {
		loserCanceled.Store(true)
		return nil
	}))

	io := Race(loser, Then(Sleep(10*time.Millisecond), Pure(1)))

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())

	// The race only settles once the loser has fully terminated, so
	// its cancellation finalizer is observable immediately.
	r.True(loserCanceled.Load())
}

func TestRaceFirstFailureWins(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	boom := errors.New("boom")
	slow := errors.New("slow boom")

	io := Race(
		Then(Sleep(5*time.Millisecond), Error[int](boom)),
		Then(Sleep(200*time.Millisecond), Error[string](slow)),
	)

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())
	r.ErrorIs(oc.Err(), boom)
}

func TestRaceCancelPropagatesToBothSides(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var canceled atomic.Int32
	side := func() IO[int] {
		return OnCancel(Never[int](), Void(func() error {
			canceled.Add(1)
			return nil
		}))
	}

	started := make(chan struct{})
	io := Then(Void(func() error {
		close(started)
		return nil
	}), Race(side(), side()))

	fb := Spawn(rt, io)
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := RunSync(rt, fb.Cancel(), 2*time.Second)
	r.NoError(err)

	oc, ok := fb.Outcome()
	r.True(ok)
	r.True(oc.Canceled())
	r.Equal(int32(2), canceled.Load())
}

func TestRaceFoldedDeep(t *testing.T) {
	r := require.New(t)

	var sunk atomic.Int32
	rt := newTestRuntime(t, WithErrorSink(func(error) {
		sunk.Add(1)
	}))

	io := Pure(42)
	for i := 0; i < 100; i++ {
		io = Map(Race(Never[int](), io), func(res RaceResult[int, int]) int {
			return res.Right
		})
	}

	oc, err := RunSync(rt, io, 10*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.Equal(42, oc.Value())
	r.Equal(int32(0), sunk.Load())
}

func TestTimeoutCompletesInTime(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	oc, err := RunSync(rt, Timeout(Pure(3), time.Second), 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.Equal(3, oc.Value())
}

func TestTimeoutExpires(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var canceled atomic.Bool
	body := OnCancel(Never[int](), Void(func() error {
		canceled.Store(true)
		return nil
	}))

	oc, err := RunSync(rt, Timeout(body, 20*time.Millisecond), 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())
	r.ErrorIs(oc.Err(), ErrDeadlineExceeded)
	r.True(canceled.Load())
}
