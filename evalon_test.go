package fio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvalOnHopsAndRestores(t *testing.T) {
	r := require.New(t)

	c1 := NewPoolExecutor(1)
	c2 := NewPoolExecutor(1)
	c3 := NewPoolExecutor(1)
	t.Cleanup(c1.Close)
	t.Cleanup(c2.Close)
	t.Cleanup(c3.Close)

	rt := New(c3, StdTimer{})

	var seen []Executor
	note := FlatMap(CurrentExecutor(), func(e Executor) IO[Unit] {
		seen = append(seen, e)
		return Pure(Unit{})
	})

	inner := Then(note, EvalOn(note, c2))
	program := Then(note, Then(EvalOn(inner, c1), note))

	oc, err := RunSync(rt, program, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())

	r.Len(seen, 4)
	r.Same(c3, seen[0])
	r.Same(c1, seen[1])
	r.Same(c2, seen[2])
	r.Same(c3, seen[3])
}

func TestEvalOnNestedRestoresEnclosingExecutor(t *testing.T) {
	r := require.New(t)

	c1 := NewPoolExecutor(1)
	c2 := NewPoolExecutor(1)
	c3 := NewPoolExecutor(1)
	t.Cleanup(c1.Close)
	t.Cleanup(c2.Close)
	t.Cleanup(c3.Close)

	rt := New(c3, StdTimer{})

	var seen []Executor
	note := FlatMap(CurrentExecutor(), func(e Executor) IO[Unit] {
		seen = append(seen, e)
		return Pure(Unit{})
	})

	// After the nested hop to c2 finishes, execution must come back
	// to c1, not to the runtime default.
	onC1 := Then(note, Then(EvalOn(note, c2), note))
	program := Then(note, Then(EvalOn(onC1, c1), note))

	oc, err := RunSync(rt, program, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())

	r.Len(seen, 5)
	r.Same(c3, seen[0])
	r.Same(c1, seen[1])
	r.Same(c2, seen[2])
	r.Same(c1, seen[3])
	r.Same(c3, seen[4])
}

func TestEvalOnFailureStillRestores(t *testing.T) {
	r := require.New(t)

	c1 := NewPoolExecutor(1)
	t.Cleanup(c1.Close)

	exec := NewPoolExecutor(1)
	t.Cleanup(exec.Close)
	rt := New(exec, StdTimer{})

	var after Executor
	io := HandleErrorWith(
		EvalOn(Delay(func() (int, error) {
			return 0, ErrNoOutcome
		}), c1),
		func(err error) IO[int] {
			return FlatMap(CurrentExecutor(), func(e Executor) IO[int] {
				after = e
				return Error[int](err)
			})
		},
	)

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Failed())
	r.ErrorIs(oc.Err(), ErrNoOutcome)
	r.Same(exec, after)
}

func TestEvalOnSleepResumesOnTargetExecutor(t *testing.T) {
	r := require.New(t)

	c1 := NewPoolExecutor(1)
	t.Cleanup(c1.Close)

	exec := NewPoolExecutor(1)
	t.Cleanup(exec.Close)
	rt := New(exec, StdTimer{})

	var afterSleep Executor
	io := EvalOn(Then(Sleep(10*time.Millisecond), FlatMap(CurrentExecutor(), func(e Executor) IO[Unit] {
		afterSleep = e
		return Pure(Unit{})
	})), c1)

	oc, err := RunSync(rt, io, 2*time.Second)
	r.NoError(err)
	r.True(oc.Succeeded())
	r.Same(c1, afterSleep)
}
