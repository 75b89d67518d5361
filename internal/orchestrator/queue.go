package orchestrator

import "container/heap"

// taskQueue is a min-heap of pending tasks ordered by (priority, seq).
// It is not safe for concurrent use; the Manager guards it with its mutex.
type taskQueue []*taskEntry

var _ heap.Interface = (*taskQueue)(nil)

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].record.Context.Priority != q[j].record.Context.Priority {
		return q[i].record.Context.Priority < q[j].record.Context.Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	e := x.(*taskEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
