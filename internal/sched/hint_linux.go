//go:build linux
// +build linux

package sched

import (
	"runtime"

	"github.com/temoto/wearable/log2"
	"golang.org/x/sys/unix"
)

// threadHint maps task priority to niceness of worker OS thread.
// Priority 9 and above get nice 0, lower priorities are niced up to 19.
// Unprivileged process can not lower niceness back, failures are logged once.
type threadHint struct {
	enable bool
	log    *log2.Log
	tid    int
	nice   int
	failed bool
}

func newThreadHint(enable bool, log *log2.Log) *threadHint {
	h := &threadHint{enable: enable, log: log, nice: -1}
	if enable {
		runtime.LockOSThread()
		h.tid = unix.Gettid()
	}
	return h
}

func (h *threadHint) apply(p Priority) {
	if !h.enable || h.failed {
		return
	}
	nice := priorityNice(p)
	if nice == h.nice {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, h.tid, nice); err != nil {
		h.failed = true
		h.log.Debugf("sched os priority hint disabled tid=%d nice=%d err=%v", h.tid, nice, err)
		return
	}
	h.nice = nice
}

// Niced thread is not returned to runtime pool,
// locked thread terminates together with worker goroutine.
func (h *threadHint) release() {}
