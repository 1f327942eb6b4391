package hnsw

import "container/heap"

// candidateHeap is a min-heap of ScoredPoint ordered by score ascending
// (ties broken by offset ascending), used as the "nearest frontier" during
// bounded best-first search.
type candidateHeap []ScoredPoint

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Offset < h[j].Offset
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(ScoredPoint)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// resultHeap is a max-heap of ScoredPoint ordered by score descending (worst
// first), used to hold the current best-ef-found set so the worst of the
// found set can be evicted in O(log n) when a closer candidate turns up.
type resultHeap []ScoredPoint

func (h resultHeap) Len() int { return len(h) }
func (h resultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].Offset > h[j].Offset
}
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(ScoredPoint)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var (
	_ heap.Interface = (*candidateHeap)(nil)
	_ heap.Interface = (*resultHeap)(nil)
)
