// Package enn implements the exact nearest-neighbor reference path shared by
// all adapters: metric scoring and deterministic top-k selection. Adapters
// without a native vector index use it for every search; adapters with one
// use it when exact results are requested.
package enn

import (
	"container/heap"
	"math"
	"sort"

	"github.com/kailas-cloud/polyvec"
)

// Score computes the score of candidate v against query q under metric m.
// Cosine and dot product scores are similarities (higher is better);
// euclidean scores are distances (lower is better).
func Score(m polyvec.Metric, q, v []float32) float64 {
	switch m {
	case polyvec.Euclidean:
		return euclideanDistance(q, v)
	case polyvec.DotProduct:
		return dotProduct(q, v)
	default:
		return cosineSimilarity(q, v)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func euclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Candidate is one scored document id.
type Candidate struct {
	ID    string
	Score float64
}

// TopK selects the best k candidates under a metric with a bounded heap
// (partial sort). Ties are broken by ascending id so repeated identical
// queries return identical orderings. Each id occupies at most one slot:
// re-pushing a retained id is a no-op, so candidate sources that can yield
// the same document twice (a paged scan racing index updates, an overfetched
// ANN result) never crowd out a distinct kth result.
type TopK struct {
	k          int
	descending bool
	heap       candidateHeap
	seen       map[string]bool
}

// NewTopK creates a selector for the given metric keeping k candidates.
func NewTopK(m polyvec.Metric, k int) *TopK {
	t := &TopK{k: k, descending: m.Descending(), seen: make(map[string]bool)}
	t.heap.worse = t.worse
	return t
}

// worse reports whether a ranks strictly behind b.
func (t *TopK) worse(a, b Candidate) bool {
	if a.Score != b.Score {
		if t.descending {
			return a.Score < b.Score
		}
		return a.Score > b.Score
	}
	return a.ID > b.ID
}

// Push offers a candidate; it is kept only if it ranks within the best k
// and its id is not already retained.
func (t *TopK) Push(id string, score float64) {
	if t.seen[id] {
		return
	}
	c := Candidate{ID: id, Score: score}
	if t.heap.Len() < t.k {
		t.seen[id] = true
		heap.Push(&t.heap, c)
		return
	}
	// Worst retained candidate sits at the heap root.
	if t.worse(c, t.heap.items[0]) {
		return
	}
	delete(t.seen, t.heap.items[0].ID)
	t.seen[id] = true
	t.heap.items[0] = c
	heap.Fix(&t.heap, 0)
}

// Results returns the retained candidates ordered best-first.
func (t *TopK) Results() []Candidate {
	out := make([]Candidate, len(t.heap.items))
	copy(out, t.heap.items)
	sort.Slice(out, func(i, j int) bool {
		return t.worse(out[j], out[i])
	})
	return out
}

// candidateHeap keeps the worst retained candidate at the root.
type candidateHeap struct {
	items []Candidate
	worse func(a, b Candidate) bool
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool { return h.worse(h.items[i], h.items[j]) }

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) { h.items = append(h.items, x.(Candidate)) }

func (h *candidateHeap) Pop() any {
	n := len(h.items)
	c := h.items[n-1]
	h.items = h.items[:n-1]
	return c
}
