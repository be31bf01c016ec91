// ABOUTME: Pending task priority queue built on container/heap
// ABOUTME: Orders by agent priority desc, submission sequence asc, task id asc

package dispatch

import "container/heap"

type entry struct {
	taskID   string
	agentID  string
	priority int
	seq      uint64
	index    int
}

// pendingQueue implements heap.Interface.
type pendingQueue []*entry

var _ heap.Interface = (*pendingQueue)(nil)

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.taskID < b.taskID
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pendingQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
