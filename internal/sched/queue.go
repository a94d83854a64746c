package sched

import (
	"container/heap"
	"context"
)

type task struct {
	ctx  context.Context
	fun  TaskFunc
	pri  Priority
	seq  uint64
	done chan error
}

// taskQueue is max-heap by priority, FIFO by seq within same priority.
type taskQueue []*task

var _ heap.Interface = &taskQueue{}

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].pri != q[j].pri {
		return q[i].pri > q[j].pri
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x interface{}) { *q = append(*q, x.(*task)) }
func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
