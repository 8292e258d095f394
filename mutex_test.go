package fio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithLockSerializesCriticalSections(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var m Mutex
	counter := 0

	// Not atomic on purpose. The mutex is the only thing keeping
	// the read-modify-write sequences from interleaving.
	incr := WithLock(&m, Void(func() error {
		v := counter
		counter = v + 1
		return nil
	}))

	const n = 50
	chs := make([]<-chan Outcome[Unit], n)
	for i := range chs {
		chs[i] = ToChannel(rt, incr)
	}
	for _, ch := range chs {
		select {
		case oc := <-ch:
			r.True(oc.Succeeded())
		case <-time.After(5 * time.Second):
			t.Fatal("lock holder never finished")
		}
	}

	r.Equal(n, counter)
	r.Equal(0, m.WaitCount())
}

func TestMutexHandoffToCanceledWaiterIsNotLost(t *testing.T) {
	r := require.New(t)

	exec := NewPoolExecutor(1)
	t.Cleanup(exec.Close)
	rt := New(exec, StdTimer{})

	var m Mutex
	oc, err := RunSync(rt, m.Lock(), 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())

	victim := Spawn(rt, WithLock(&m, Never[int]()))
	r.Eventually(func() bool { return m.WaitCount() == 1 },
		2*time.Second, time.Millisecond)

	// Stall the only worker, hand the lock to the parked victim,
	// then cancel it before the resumption can run.
	gate := make(chan struct{})
	exec.Submit(func() { <-gate })

	m.unlock()
	victim.f.requestCancel()
	close(gate)

	oc2, err := RunSync(rt, victim.Join(), 2*time.Second)
	r.NoError(err)
	r.True(oc2.Canceled())

	// The canceled victim must have given the lock back.
	oc3, err := RunSync(rt, WithLock(&m, Pure(9)), 2*time.Second)
	r.NoError(err)
	r.True(oc3.Succeeded())
	r.Equal(9, oc3.Value())
}

func TestMutexCancelReleaseRace(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var m Mutex
	for i := 0; i < 50; i++ {
		oc, err := RunSync(rt, m.Lock(), 2*time.Second)
		r.NoError(err)
		r.True(oc.Succeeded())

		victim := Spawn(rt, WithLock(&m, Never[int]()))
		r.Eventually(func() bool { return m.WaitCount() == 1 },
			2*time.Second, time.Millisecond)

		unlocked := make(chan struct{})
		go func() {
			m.unlock()
			close(unlocked)
		}()
		_, err = RunSync(rt, victim.Cancel(), 2*time.Second)
		r.NoError(err)
		<-unlocked

		// Whichever way the race went, the lock must be takeable.
		oc2, err := RunSync(rt, WithLock(&m, Pure(i)), 2*time.Second)
		r.NoError(err)
		r.True(oc2.Succeeded())
	}
}

func TestMutexUnlockWithoutLockPanics(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var m Mutex
	oc, err := RunSync(rt, m.Unlock(), 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())

	var pe *PanicError
	r.ErrorAs(oc.Err(), &pe)
}

func TestWithLockReleasesOnFailure(t *testing.T) {
	r := require.New(t)
	rt := newTestRuntime(t)

	var m Mutex
	failing := WithLock(&m, Error[int](ErrNoOutcome))

	oc, err := RunSync(rt, failing, 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())

	// A follow-up lock must not deadlock on the abandoned hold.
	oc2, err := RunSync(rt, WithLock(&m, Pure(9)), 2*time.Second)
	r.NoError(err)
	r.Equal(9, oc2.Value())
}
