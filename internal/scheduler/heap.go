package scheduler

import "container/heap"

// jobHeap implements container/heap.Interface for Job, sorted by RunAt
// (earliest first).
type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *jobHeap, j Job) {
	heap.Push(h, j)
}

// heapPop removes and returns the Job with the earliest RunAt.
// Panics if the heap is empty.
func heapPop(h *jobHeap) Job {
	return heap.Pop(h).(Job)
}

// heapRemoveByID removes the first Job with the given ID. Returns true
// if the job was found and removed.
func heapRemoveByID(h *jobHeap, id string) bool {
	for i, j := range *h {
		if j.ID == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
