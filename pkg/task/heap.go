package task

import "container/heap"

// queueItem is one entry in a service's priority queue: lower Priority value
// dispatches first, and Seq breaks ties FIFO within the same priority.
type queueItem struct {
	taskID   string
	priority int
	seq      uint64
}

// priorityQueue is a container/heap.Interface over queueItem, ordered by
// (priority ascending, seq ascending).
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) {
	*q = append(*q, x.(*queueItem))
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// serviceQueue wraps a priorityQueue with the heap.Interface plumbing so
// callers never touch container/heap directly.
type serviceQueue struct {
	pq priorityQueue
}

func newServiceQueue() *serviceQueue {
	sq := &serviceQueue{pq: priorityQueue{}}
	heap.Init(&sq.pq)
	return sq
}

func (s *serviceQueue) push(taskID string, priority int, seq uint64) {
	heap.Push(&s.pq, &queueItem{taskID: taskID, priority: priority, seq: seq})
}

// pop removes and returns the next task id in dispatch order, or "" if empty.
func (s *serviceQueue) pop() (string, bool) {
	if s.pq.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&s.pq).(*queueItem)
	return item.taskID, true
}

// remove drops the first queued entry for taskID, used by cancel-while-queued.
func (s *serviceQueue) remove(taskID string) bool {
	for i, item := range s.pq {
		if item.taskID == taskID {
			heap.Remove(&s.pq, i)
			return true
		}
	}
	return false
}

func (s *serviceQueue) len() int { return s.pq.Len() }
