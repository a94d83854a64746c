// Package sched is fixed priority runner for periodic producer work.
// Runnable tasks wait in priority queue, free worker takes the highest
// priority one, same priority tasks run in arrival order. Running task
// is never interrupted, preemption happens at task boundaries only.
package sched

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/wearable/log2"
)

var ErrInterrupted = fmt.Errorf("scheduler interrupted, ignore like EPIPE")

// Higher value runs first.
type Priority int

type TaskFunc = func(context.Context) error

type Scheduler interface {
	ScheduleSync(context.Context, Priority, TaskFunc) error
}

type Options struct {
	Log     *log2.Log
	Workers int
	// Best effort per task OS thread niceness, see hint_linux.go.
	OsPriorityHint bool
}

type Run struct {
	alive *alive.Alive
	log   *log2.Log
	opt   Options

	mu   sync.Mutex
	cond *sync.Cond
	q    taskQueue
	seq  uint64
	busy int
}

var _ Scheduler = &Run{} // compile-time interface test

func NewRunner(opt Options) *Run {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	r := &Run{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Loop runs workers until parent or runner is stopped.
// Pending tasks are completed with ErrInterrupted.
func (r *Run) Loop(parent *alive.Alive) {
	for i := 0; i < r.opt.Workers; i++ {
		if !r.alive.Add(1) {
			break
		}
		go r.worker()
	}
	select {
	case <-parent.StopChan():
		r.Stop()
	case <-r.alive.StopChan():
	}
	r.alive.WaitTasks()
}

func (r *Run) Stop() {
	r.mu.Lock()
	r.alive.Stop()
	pending := r.q
	r.q = nil
	r.mu.Unlock()
	r.cond.Broadcast()
	for _, t := range pending {
		t.done <- errors.Trace(ErrInterrupted)
	}
}

// Pending is number of queued tasks, not including running ones.
func (r *Run) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Len()
}

// Busy is number of currently running tasks.
func (r *Run) Busy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// ScheduleSync blocks until fun is executed by worker and returns its error.
// Returns ctx error if ctx is done before task started.
func (r *Run) ScheduleSync(ctx context.Context, priority Priority, fun TaskFunc) error {
	t := &task{ctx: ctx, fun: fun, pri: priority, done: make(chan error, 1)}
	r.mu.Lock()
	if !r.alive.IsRunning() {
		r.mu.Unlock()
		return errors.Trace(ErrInterrupted)
	}
	r.seq++
	t.seq = r.seq
	heap.Push(&r.q, t)
	r.mu.Unlock()
	r.cond.Signal()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if r.remove(t) {
			return ctx.Err()
		}
		// already running or finished
		return <-t.done
	}
}

func (r *Run) remove(t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.q {
		if x == t {
			heap.Remove(&r.q, i)
			return true
		}
	}
	return false
}

func (r *Run) next() *task {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.q.Len() == 0 && r.alive.IsRunning() {
		r.cond.Wait()
	}
	if !r.alive.IsRunning() {
		return nil
	}
	r.busy++
	return heap.Pop(&r.q).(*task)
}

func (r *Run) worker() {
	defer r.alive.Done()
	hint := newThreadHint(r.opt.OsPriorityHint, r.log)
	defer hint.release()
	for {
		t := r.next()
		if t == nil {
			return
		}
		hint.apply(t.pri)
		err := r.do(t)
		r.mu.Lock()
		r.busy--
		r.mu.Unlock()
		t.done <- err
	}
}

func (r *Run) do(t *task) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = errors.Errorf("task panic priority=%d: %v", t.pri, x)
		}
	}()
	if err = t.ctx.Err(); err != nil {
		return err
	}
	return t.fun(t.ctx)
}
