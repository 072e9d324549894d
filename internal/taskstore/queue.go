package taskstore

import (
	"container/heap"

	"github.com/fluxsched/fluxsched/internal/taskmodel"
)

// priorityQueue implements heap.Interface over *taskmodel.Task, ordered per
// spec.md §4.1: priority desc, deadline asc, created_at asc, id asc. This
// mirrors the teacher's scheduler.TaskQueue (container/heap + custom Less),
// generalized from the teacher's aging-based comparator to the spec's
// strict weak ordering.
type priorityQueue []*taskmodel.Task

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*taskmodel.Task))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[0 : n-1]
	return item
}

func newPriorityQueue() *priorityQueue {
	pq := make(priorityQueue, 0)
	heap.Init(&pq)
	return &pq
}

func (pq *priorityQueue) push(t *taskmodel.Task) {
	heap.Push(pq, t)
}

func (pq *priorityQueue) pop() *taskmodel.Task {
	if pq.Len() == 0 {
		return nil
	}
	return heap.Pop(pq).(*taskmodel.Task)
}
