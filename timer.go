package fio

import "time"

// TimerHandle cancels a scheduled callback. Cancel is idempotent and
// prevents a not-yet-fired callback from firing; canceling after the
// callback ran is a no-op.
type TimerHandle interface {
	Cancel()
}

// Timer schedules a callback to fire no earlier than the given delay.
type Timer interface {
	ScheduleAfter(d time.Duration, fn func()) TimerHandle
}

// StdTimer is the Timer adapter over the standard library's
// time.AfterFunc.
type StdTimer struct{}

// ScheduleAfter schedules fn after at least d.
func (StdTimer) ScheduleAfter(d time.Duration, fn func()) TimerHandle {
	return stdTimerHandle{t: time.AfterFunc(d, fn)}
}

type stdTimerHandle struct {
	t *time.Timer
}

func (h stdTimerHandle) Cancel() {
	h.t.Stop()
}
