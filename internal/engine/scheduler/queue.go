package scheduler

import (
	"container/heap"

	"go.trai.ch/kiln/internal/core/domain"
)

// readyQueue orders dispatchable tasks by rank ascending, priority
// descending, then submission order.
type readyQueue []*domain.AnalysisTask

var _ heap.Interface = (*readyQueue)(nil)

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*domain.AnalysisTask)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *readyQueue) push(t *domain.AnalysisTask) { heap.Push(q, t) }

func (q *readyQueue) pop() *domain.AnalysisTask { return heap.Pop(q).(*domain.AnalysisTask) }
