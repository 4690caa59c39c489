package queue

import (
	"container/heap"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// entryHeap orders LogEntry pointers by (Priority ascending, Timestamp
// ascending), the total order required by spec §4.2.1. container/heap is
// stdlib — no third-party priority-queue implementation appears anywhere
// in the retrieved pack, so this one concern is built on the standard
// library rather than an ecosystem dependency (see DESIGN.md).
type entryHeap []*threatlens.LogEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Timestamp.Before(h[j].Timestamp)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*threatlens.LogEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*entryHeap)(nil)
