package activation

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Queue holds activation ids until they are due. redis.DelayQueue
// satisfies it for multi-instance deployments.
type Queue interface {
	Push(ctx context.Context, id string, due time.Time) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type queueItem struct {
	id  string
	due time.Time
}

type dueHeap []queueItem

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }
func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryQueue is the single-process queue. Pushing an id that is already
// queued moves it to the new due time.
type MemoryQueue struct {
	mu    sync.Mutex
	items dueHeap
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, id string, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].id == id {
			q.items[i].due = due
			heap.Fix(&q.items, i)
			return nil
		}
	}
	heap.Push(&q.items, queueItem{id: id, due: due})
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for q.items.Len() > 0 && len(ids) < limit && !q.items[0].due.After(now) {
		ids = append(ids, heap.Pop(&q.items).(queueItem).id)
	}
	return ids, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
