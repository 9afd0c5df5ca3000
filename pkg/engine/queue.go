package engine

import (
	"container/heap"

	"github.com/google/uuid"
)

// queueEntry is one element of the global ready queue. Ordering is by
// ascending priority, with the monotonically increasing sequence number
// breaking ties so equal-priority tasks are served in submission order.
type queueEntry struct {
	priority   int
	seq        uint64
	workflowID uuid.UUID
	taskID     string
}

type readyQueue []*queueEntry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x interface{}) {
	*q = append(*q, x.(*queueEntry))
}

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return entry
}

var _ heap.Interface = (*readyQueue)(nil)
