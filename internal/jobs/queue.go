package jobs

import "container/heap"

// pendingQueue orders handlers by priority (highest first), breaking ties
// by submission sequence so that equal priorities dequeue in FIFO order.
type pendingQueue []*handler

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].queueIndex = i
	q[j].queueIndex = j
}

func (q *pendingQueue) Push(x interface{}) {
	h := x.(*handler)
	h.queueIndex = len(*q)
	*q = append(*q, h)
}

func (q *pendingQueue) Pop() interface{} {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.queueIndex = -1
	*q = old[:n-1]
	return h
}

func (q *pendingQueue) push(h *handler) {
	heap.Push(q, h)
}

func (q *pendingQueue) pop() *handler {
	return heap.Pop(q).(*handler)
}

// remove drops a handler from the middle of the queue
func (q *pendingQueue) remove(h *handler) {
	if h.queueIndex >= 0 {
		heap.Remove(q, h.queueIndex)
	}
}
