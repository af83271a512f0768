package scheduler

import (
	"container/heap"
	"time"

	"jobhost/internal/task/job"
)

// entry is a pending fire. It is stale once the stored trigger's version
// differs from version.
type entry struct {
	at      time.Time
	key     job.TriggerKey
	version uint64
	seq     uint64
}

type fireHeap []entry

func (h fireHeap) Len() int { return len(h) }

func (h fireHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h fireHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x any)   { *h = append(*h, x.(entry)) }

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// fireQueue orders entries by fire time, then insertion order.
type fireQueue struct {
	h   fireHeap
	seq uint64
}

func (q *fireQueue) push(e entry) {
	q.seq++
	e.seq = q.seq
	heap.Push(&q.h, e)
}

func (q *fireQueue) len() int { return q.h.Len() }

func (q *fireQueue) peek() (entry, bool) {
	if len(q.h) == 0 {
		return entry{}, false
	}
	return q.h[0], true
}

// popDue removes and returns the earliest entry if it is due at now.
func (q *fireQueue) popDue(now time.Time) (entry, bool) {
	if len(q.h) == 0 || q.h[0].at.After(now) {
		return entry{}, false
	}
	return heap.Pop(&q.h).(entry), true
}

func (q *fireQueue) reset() {
	q.h = q.h[:0]
}
