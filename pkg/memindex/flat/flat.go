// Package flat implements the brute-force Memory Index backend of spec §4.9:
// a contiguous array of (id, vector, metadata) triples, O(1) amortized
// insert, and O(N·D) search via a bounded min-heap over the top-k candidates.
//
// Grounded on the teacher pack's in-memory vector store
// (lookatitude-beluga-ai/pkg/vectorstores/inmemory), generalized from cosine-
// only similarity to the three configurable [memindex.Metric]s and from a
// linear-scan-then-full-sort to a bounded heap, since spec.md names the
// complexity bound explicitly. Concurrency follows spec §5: one
// reader-writer lock, writers block readers.
package flat

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/runanywhere/racore/pkg/memindex"
	"github.com/runanywhere/racore/pkg/racerr"
)

// Index is the flat, brute-force [memindex.Index] backend. The zero value is
// not usable; construct with [New].
type Index struct {
	metric    memindex.Metric
	dimension int

	mu      sync.RWMutex
	order   []string // insertion order, for deterministic snapshot/iteration
	entries map[string]memindex.Entry
}

// New constructs an empty flat index fixed to dimension and metric.
func New(dimension int, metric memindex.Metric) *Index {
	return &Index{
		metric:    metric,
		dimension: dimension,
		entries:   make(map[string]memindex.Entry),
	}
}

func (idx *Index) checkDim(v []float32) error {
	if len(v) != idx.dimension {
		return racerr.New(racerr.InvalidArgument, "memindex/flat", "checkDim",
			fmt.Sprintf("expected dimension %d, got %d", idx.dimension, len(v)), 0)
	}
	return nil
}

// Add implements [memindex.Index]. A duplicate ID overwrites the prior entry
// in place without changing insertion order.
func (idx *Index) Add(ctx context.Context, e memindex.Entry) error {
	if err := idx.checkDim(e.Vector); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.entries[e.ID]; !exists {
		idx.order = append(idx.order, e.ID)
	}
	idx.entries[e.ID] = e
	return nil
}

// Update implements [memindex.Index] as an upsert.
func (idx *Index) Update(ctx context.Context, e memindex.Entry) error {
	return idx.Add(ctx, e)
}

// DeleteByID implements [memindex.Index].
func (idx *Index) DeleteByID(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.entries[id]; !ok {
		return nil
	}
	delete(idx.entries, id)
	for i, existing := range idx.order {
		if existing == id {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
	return nil
}

// candidate is one scored entry tracked by the bounded top-k heap during
// Search. normalized is always oriented larger-is-better, so a single
// min-heap (worst candidate at index 0, evicted first) serves every metric.
type candidate struct {
	normalized float64
	result     memindex.Result
}

type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].normalized < h[j].normalized }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Search implements [memindex.Index]. It computes the configured distance
// against every live entry and keeps the top-k via a bounded min-heap
// (O(N·D) time, O(k) extra space), per spec §4.9.
func (idx *Index) Search(ctx context.Context, query []float32, k int, filter *memindex.Filter) ([]memindex.Result, error) {
	if err := idx.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := &candidateHeap{}
	heap.Init(h)
	for _, id := range idx.order {
		e, ok := idx.entries[id]
		if !ok || !filter.Accepts(e.Metadata) {
			continue
		}
		raw, err := distance(idx.metric, query, e.Vector)
		if err != nil {
			return nil, err
		}
		normalized := memindex.NormalizeScore(idx.metric, raw)
		cand := candidate{normalized: normalized, result: memindex.Result{
			ID: e.ID, Score: normalized, Metadata: e.Metadata, Text: e.Text,
		}}
		if h.Len() < k {
			heap.Push(h, cand)
			continue
		}
		if normalized > (*h)[0].normalized {
			heap.Pop(h)
			heap.Push(h, cand)
		}
	}

	out := make([]memindex.Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(candidate).result
	}
	return out, nil
}

// Size implements [memindex.Index].
func (idx *Index) Size(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

// Clear implements [memindex.Index].
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.order = nil
	idx.entries = make(map[string]memindex.Entry)
	return nil
}

// snapshotEnvelope is the JSON wire format written by Snapshot and read by
// Restore. It is a private detail of this backend; other backends need not
// use the same format.
type snapshotEnvelope struct {
	Metric    memindex.Metric    `json:"metric"`
	Dimension int                `json:"dimension"`
	Order     []string           `json:"order"`
	Entries   map[string]entryJS `json:"entries"`
}

type entryJS struct {
	Vector   []float32 `json:"vector"`
	Metadata string    `json:"metadata"`
	Text     string    `json:"text"`
}

// Snapshot implements [memindex.Index].
func (idx *Index) Snapshot(ctx context.Context) (memindex.Snapshot, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	env := snapshotEnvelope{
		Metric:    idx.metric,
		Dimension: idx.dimension,
		Order:     append([]string(nil), idx.order...),
		Entries:   make(map[string]entryJS, len(idx.entries)),
	}
	for id, e := range idx.entries {
		env.Entries[id] = entryJS{Vector: e.Vector, Metadata: e.Metadata, Text: e.Text}
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("memindex/flat: snapshot: %w", err)
	}
	return buf, nil
}

// Restore implements [memindex.Index].
func (idx *Index) Restore(ctx context.Context, snap memindex.Snapshot) error {
	var env snapshotEnvelope
	if err := json.Unmarshal(snap, &env); err != nil {
		return fmt.Errorf("memindex/flat: restore: %w", err)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.metric = env.Metric
	idx.dimension = env.Dimension
	idx.order = env.Order
	idx.entries = make(map[string]memindex.Entry, len(env.Entries))
	for id, e := range env.Entries {
		idx.entries[id] = memindex.Entry{ID: id, Vector: e.Vector, Metadata: e.Metadata, Text: e.Text}
	}
	return nil
}

func distance(metric memindex.Metric, a, b []float32) (float64, error) {
	switch metric {
	case memindex.MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum, nil
	case memindex.MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0, nil
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
	case memindex.MetricInnerProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot, nil
	default:
		return 0, racerr.New(racerr.InvalidArgument, "memindex/flat", "distance", "unknown metric", 0)
	}
}
