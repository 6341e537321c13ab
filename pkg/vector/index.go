// Package vector provides the in-memory nearest-neighbour index and its
// on-disk file format.
//
// Vectors are L2-normalized, so cosine similarity is a plain dot product.
// Search keeps a bounded min-heap of size k while scanning, and orders the
// final results (score desc, doc id asc, kind asc) so repeated searches are
// byte-identical — including under score ties.
package vector

import (
	"container/heap"
	"runtime"
	"sync"

	"github.com/liliang-cn/xf/pkg/embed"
	"github.com/liliang-cn/xf/pkg/model"
)

// parallelThreshold is the index size above which SearchTopKParallel
// actually fans out; below it the sequential scan wins.
const parallelThreshold = 10_000

// chunkSize is the per-goroutine scan unit for the parallel search.
const chunkSize = 1024

// Entry is one stored vector with its identity.
type Entry struct {
	DocID     string
	Kind      model.DocKind
	Embedding []float32
}

// SearchResult is one hit of a vector search.
type SearchResult struct {
	// DocID is the document id.
	DocID string
	// Kind is the document kind.
	Kind model.DocKind
	// Score is the cosine similarity, in [-1, 1].
	Score float32
}

// Index is an in-memory vector store. Mutation is serial; searches may run
// concurrently with each other but not with Add.
type Index struct {
	entries   []Entry
	dimension int
}

// New creates an empty index with the given dimension.
func New(dimension int) *Index {
	return &Index{dimension: dimension}
}

// FromEntries builds an index over pre-loaded entries. The dimension is
// taken from the first entry when dim is zero.
func FromEntries(entries []Entry, dim int) *Index {
	if dim == 0 && len(entries) > 0 {
		dim = len(entries[0].Embedding)
	}
	if dim == 0 {
		dim = embed.DefaultDimension
	}
	return &Index{entries: entries, dimension: dim}
}

// Add appends a vector to the index.
func (x *Index) Add(docID string, kind model.DocKind, embedding []float32) {
	x.entries = append(x.entries, Entry{DocID: docID, Kind: kind, Embedding: embedding})
}

// Len returns the number of stored vectors.
func (x *Index) Len() int { return len(x.entries) }

// Dimension returns the embedding dimension.
func (x *Index) Dimension() int { return x.dimension }

// Entries exposes the stored entries for serialization.
func (x *Index) Entries() []Entry { return x.entries }

// SearchTopK returns the k most similar vectors to query, optionally
// restricted to the given kinds. An empty result is returned when k is
// zero, the index is empty, or the query dimension does not match.
func (x *Index) SearchTopK(query []float32, k int, kinds []model.DocKind) []SearchResult {
	if k <= 0 || len(x.entries) == 0 || len(query) != x.dimension {
		return nil
	}

	h := newTopKHeap(k)
	scanChunk(x.entries, query, kinds, k, h)

	return drainSorted(h)
}

// SearchTopKParallel behaves exactly like SearchTopK but partitions the
// scan across goroutines for large indices. Results are identical to the
// sequential variant, including tie ordering.
func (x *Index) SearchTopKParallel(query []float32, k int, kinds []model.DocKind) []SearchResult {
	if len(x.entries) < parallelThreshold {
		return x.SearchTopK(query, k, kinds)
	}
	if k <= 0 || len(query) != x.dimension {
		return nil
	}

	numChunks := (len(x.entries) + chunkSize - 1) / chunkSize
	partials := make([]*topKHeap, numChunks)

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for c := 0; c < numChunks; c++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(c int) {
			defer wg.Done()
			defer func() { <-sem }()
			start := c * chunkSize
			end := start + chunkSize
			if end > len(x.entries) {
				end = len(x.entries)
			}
			local := newTopKHeap(k)
			scanChunk(x.entries[start:end], query, kinds, k, local)
			partials[c] = local
		}(c)
	}
	wg.Wait()

	final := newTopKHeap(k)
	for _, local := range partials {
		for _, e := range local.items {
			final.push(e, k)
		}
	}

	return drainSorted(final)
}

func scanChunk(entries []Entry, query []float32, kinds []model.DocKind, k int, h *topKHeap) {
	for i := range entries {
		e := &entries[i]
		if len(kinds) > 0 && !kindAllowed(e.Kind, kinds) {
			continue
		}
		score := embed.DotProductUnrolled(query, e.Embedding)
		h.push(scoredEntry{score: score, docID: e.DocID, kind: e.Kind}, k)
	}
}

func kindAllowed(kind model.DocKind, kinds []model.DocKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func drainSorted(h *topKHeap) []SearchResult {
	results := make([]SearchResult, h.Len())
	// Popping the min-heap yields ascending order; fill back to front.
	for i := len(results) - 1; i >= 0; i-- {
		e := heap.Pop(h).(scoredEntry)
		results[i] = SearchResult{DocID: e.docID, Kind: e.kind, Score: e.score}
	}
	return results
}

// scoredEntry orders the bounded heap. The heap keeps the *worst* entry on
// top so it can be evicted; "worse" means lower score, then greater docID,
// then greater kind, mirroring the final output ordering.
type scoredEntry struct {
	score float32
	docID string
	kind  model.DocKind
}

func worse(a, b scoredEntry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.docID != b.docID {
		return a.docID > b.docID
	}
	return a.kind > b.kind
}

type topKHeap struct {
	items []scoredEntry
}

func newTopKHeap(k int) *topKHeap {
	return &topKHeap{items: make([]scoredEntry, 0, k+1)}
}

func (h *topKHeap) push(e scoredEntry, k int) {
	heap.Push(h, e)
	if h.Len() > k {
		heap.Pop(h)
	}
}

func (h *topKHeap) Len() int           { return len(h.items) }
func (h *topKHeap) Less(i, j int) bool { return worse(h.items[i], h.items[j]) }
func (h *topKHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x any)         { h.items = append(h.items, x.(scoredEntry)) }
func (h *topKHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
