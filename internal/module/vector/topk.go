package vector

import (
	"container/heap"
	"slices"
)

// Hit is one search result.
type Hit struct {
	ID    int64
	Score float64
}

// better reports whether a ranks ahead of b. Equal scores rank by ascending id.
func better(m Metric, a, b Hit) bool {
	if a.Score != b.Score {
		if m.HigherIsBetter() {
			return a.Score > b.Score
		}
		return a.Score < b.Score
	}
	return a.ID < b.ID
}

var _ heap.Interface = (*worstFirst)(nil)

// worstFirst is a bounded heap whose root is the weakest retained hit.
type worstFirst struct {
	metric Metric
	hits   []Hit
}

func (h *worstFirst) Len() int           { return len(h.hits) }
func (h *worstFirst) Less(i, j int) bool { return better(h.metric, h.hits[j], h.hits[i]) }
func (h *worstFirst) Swap(i, j int)      { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }
func (h *worstFirst) Push(x any)         { h.hits = append(h.hits, x.(Hit)) }

func (h *worstFirst) Pop() any {
	n := len(h.hits)
	hit := h.hits[n-1]
	h.hits = h.hits[:n-1]
	return hit
}

// topK collects the k best hits.
type topK struct {
	k    int
	heap worstFirst
}

func newTopK(m Metric, k int) *topK {
	capacity := k
	if capacity > 1024 {
		capacity = 1024
	}
	return &topK{k: k, heap: worstFirst{metric: m, hits: make([]Hit, 0, capacity)}}
}

func (t *topK) offer(hit Hit) {
	if t.heap.Len() < t.k {
		heap.Push(&t.heap, hit)
		return
	}
	if better(t.heap.metric, hit, t.heap.hits[0]) {
		t.heap.hits[0] = hit
		heap.Fix(&t.heap, 0)
	}
}

// sorted returns the retained hits best-first.
func (t *topK) sorted() []Hit {
	out := slices.Clone(t.heap.hits)
	m := t.heap.metric
	slices.SortFunc(out, func(a, b Hit) int {
		switch {
		case better(m, a, b):
			return -1
		case better(m, b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}
