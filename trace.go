package fio

import (
	"fmt"
	"runtime/trace"
)

const (
	fiberTraceTaskType = "fio-fiber"
	fiberTraceCategory = "fio"
)

func (f *fiber) log(msg string) {
	if trace.IsEnabled() {
		trace.Log(f.ctx, fiberTraceCategory, msg)
	}
}

func (f *fiber) logf(format string, args ...any) {
	if trace.IsEnabled() {
		trace.Log(f.ctx, fiberTraceCategory, fmt.Sprintf(format, args...))
	}
}
