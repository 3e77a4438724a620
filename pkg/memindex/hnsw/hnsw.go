// Package hnsw implements the approximate-nearest-neighbor Memory Index
// backend of spec §4.9: a hierarchical navigable small-world graph with
// configurable M (max neighbors per node), ef_construction, and ef_search,
// whose backing storage grows by a factor of 2 on demand.
//
// No vector-search library in the example pack offers an HNSW graph (the
// pack's vector stores are either brute-force or delegate ANN search to
// Postgres/pgvector — see pkg/memindex/pgvectorstore), so this graph is
// hand-written, grounded directly on spec §4.9's complexity bounds and the
// M/ef_construction/ef_search/capacity-doubling vocabulary of the original
// hnswlib-backed implementation (memory_backend_hnswlib.cpp). See DESIGN.md.
package hnsw

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/runanywhere/racore/pkg/memindex"
	"github.com/runanywhere/racore/pkg/racerr"
)

// Config tunes graph construction and search quality versus speed.
type Config struct {
	// M is the maximum number of neighbors kept per node per layer above
	// layer 0 (layer 0 keeps 2*M). Default 16 if zero.
	M int
	// EfConstruction is the candidate-list size used while inserting.
	// Default 200 if zero.
	EfConstruction int
	// EfSearch is the candidate-list size used while searching.
	// Default 64 if zero.
	EfSearch int
	// Seed seeds the level-assignment RNG; 0 uses an arbitrary fixed seed so
	// behavior is reproducible in tests.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
	return c
}

type node struct {
	id        string
	vector    []float32
	metadata  string
	text      string
	level     int
	neighbors [][]int // neighbors[layer] = node indices, layer 0..level
	deleted   bool
}

const initialCapacity = 1024

// Index is the HNSW [memindex.Index] backend. The zero value is not usable;
// construct with [New].
type Index struct {
	metric    memindex.Metric
	dimension int
	cfg       Config
	rng       *rand.Rand
	mL        float64 // level-normalization factor, 1/ln(M)

	mu        sync.RWMutex
	nodes     []*node        // dense slice, grows by doubling (spec §4.9)
	byID      map[string]int // id -> index into nodes
	entryNode int            // index of the current top-layer entry point, -1 if empty
	maxLevel  int
}

// New constructs an empty HNSW index fixed to dimension and metric.
func New(dimension int, metric memindex.Metric, cfg Config) *Index {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		metric:    metric,
		dimension: dimension,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		mL:        1 / math.Log(float64(cfg.M)),
		nodes:     make([]*node, 0, initialCapacity),
		byID:      make(map[string]int),
		entryNode: -1,
	}
}

func (idx *Index) checkDim(v []float32) error {
	if len(v) != idx.dimension {
		return racerr.New(racerr.InvalidArgument, "memindex/hnsw", "checkDim",
			fmt.Sprintf("expected dimension %d, got %d", idx.dimension, len(v)), 0)
	}
	return nil
}

// randomLevel draws a node's top layer from the exponential distribution
// hnswlib and the original paper use, so the graph's per-layer node count
// shrinks geometrically toward the top (capacity growth is separate — see
// insertLocked).
func (idx *Index) randomLevel() int {
	level := int(math.Floor(-math.Log(idx.rng.Float64()) * idx.mL))
	return level
}

// maxNeighbors returns the neighbor cap for layer: layer 0 keeps 2*M per the
// original HNSW paper's observation that the base layer benefits from denser
// connectivity; higher layers keep M.
func (idx *Index) maxNeighbors(layer int) int {
	if layer == 0 {
		return 2 * idx.cfg.M
	}
	return idx.cfg.M
}

func (idx *Index) distanceTo(a, b []float32) float64 {
	raw := rawDistance(idx.metric, a, b)
	// Internally we always want "smaller is closer" so the candidate heaps
	// use one consistent ordering; normalization to "larger is better"
	// happens only at the Result boundary in Search.
	if idx.metric == memindex.MetricL2 {
		return raw
	}
	return -raw
}

// Add implements [memindex.Index].
func (idx *Index) Add(ctx context.Context, e memindex.Entry) error {
	if err := idx.checkDim(e.Vector); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(e)
}

// Update implements [memindex.Index] as an upsert: the existing node (if
// any) is soft-deleted and a fresh node is inserted, since HNSW neighbor
// lists are not designed for in-place vector replacement.
func (idx *Index) Update(ctx context.Context, e memindex.Entry) error {
	if err := idx.checkDim(e.Vector); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if i, ok := idx.byID[e.ID]; ok {
		idx.nodes[i].deleted = true
		delete(idx.byID, e.ID)
	}
	return idx.insertLocked(e)
}

func (idx *Index) insertLocked(e memindex.Entry) error {
	n := &node{id: e.ID, vector: e.Vector, metadata: e.Metadata, text: e.Text, level: idx.randomLevel()}
	n.neighbors = make([][]int, n.level+1)

	if len(idx.nodes) == cap(idx.nodes) {
		newCap := 2 * cap(idx.nodes)
		if newCap == 0 {
			newCap = initialCapacity
		}
		grown := make([]*node, len(idx.nodes), newCap)
		copy(grown, idx.nodes)
		idx.nodes = grown
	}
	newIdx := len(idx.nodes)
	idx.nodes = append(idx.nodes, n)
	idx.byID[e.ID] = newIdx

	if idx.entryNode == -1 || len(idx.byID) == 1 {
		idx.entryNode = newIdx
		idx.maxLevel = n.level
		return nil
	}

	cur := idx.entryNode
	for layer := idx.maxLevel; layer > n.level; layer-- {
		cur = idx.greedyDescend(cur, n.vector, layer)
	}

	for layer := min(n.level, idx.maxLevel); layer >= 0; layer-- {
		candidates := idx.searchLayer(n.vector, cur, idx.cfg.EfConstruction, layer)
		selected := selectNeighbors(candidates, idx.maxNeighbors(layer))
		n.neighbors[layer] = selected
		for _, nb := range selected {
			idx.connect(nb, newIdx, layer)
		}
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
	}

	if n.level > idx.maxLevel {
		idx.maxLevel = n.level
		idx.entryNode = newIdx
	}
	return nil
}

// connect adds a bidirectional edge and prunes the neighbor's list back down
// to its cap, keeping the closest neighbors by distance.
func (idx *Index) connect(a, b, layer int) {
	na := idx.nodes[a]
	if layer >= len(na.neighbors) {
		return
	}
	na.neighbors[layer] = append(na.neighbors[layer], b)
	limit := idx.maxNeighbors(layer)
	if len(na.neighbors[layer]) <= limit {
		return
	}
	type scored struct {
		idx int
		d   float64
	}
	scoredList := make([]scored, len(na.neighbors[layer]))
	for i, nb := range na.neighbors[layer] {
		scoredList[i] = scored{idx: nb, d: idx.distanceTo(na.vector, idx.nodes[nb].vector)}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].d < scoredList[j].d })
	kept := make([]int, 0, limit)
	for i := 0; i < limit; i++ {
		kept = append(kept, scoredList[i].idx)
	}
	na.neighbors[layer] = kept
}

type scoredCandidate struct {
	idx int
	d   float64
}

// greedyDescend performs a single-candidate greedy walk at layer, used above
// the insertion/search point's top layer where ef=1 suffices.
func (idx *Index) greedyDescend(from int, query []float32, layer int) int {
	best := from
	bestDist := idx.distanceTo(query, idx.nodes[from].vector)
	improved := true
	for improved {
		improved = false
		for _, nb := range idx.neighborsAt(best, layer) {
			d := idx.distanceTo(query, idx.nodes[nb].vector)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

func (idx *Index) neighborsAt(n, layer int) []int {
	node := idx.nodes[n]
	if layer >= len(node.neighbors) {
		return nil
	}
	return node.neighbors[layer]
}

// searchLayer performs the standard HNSW candidate-list expansion at one
// layer, returning up to ef candidates sorted by ascending distance
// (closest first), skipping soft-deleted nodes.
func (idx *Index) searchLayer(query []float32, entry int, ef int, layer int) []scoredCandidate {
	visited := map[int]bool{entry: true}
	entryDist := idx.distanceTo(query, idx.nodes[entry].vector)

	candidates := []scoredCandidate{{idx: entry, d: entryDist}}
	var results []scoredCandidate
	if !idx.nodes[entry].deleted {
		results = append(results, scoredCandidate{idx: entry, d: entryDist})
	}

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].d < candidates[j].d })
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef {
			sort.Slice(results, func(i, j int) bool { return results[i].d < results[j].d })
			if c.d > results[len(results)-1].d {
				break
			}
		}

		for _, nb := range idx.neighborsAt(c.idx, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := idx.distanceTo(query, idx.nodes[nb].vector)
			candidates = append(candidates, scoredCandidate{idx: nb, d: d})
			if !idx.nodes[nb].deleted {
				results = append(results, scoredCandidate{idx: nb, d: d})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].d < results[j].d })
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

// selectNeighbors keeps the closest max candidates by distance (the simple
// HNSW neighbor-selection heuristic, not the diversity-aware variant).
func selectNeighbors(candidates []scoredCandidate, max int) []int {
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.idx
	}
	return out
}

// DeleteByID implements [memindex.Index] as a soft (tombstone) delete: the
// node is marked deleted and excluded from future Search results and
// candidate lists, but its slot and edges remain to keep other nodes'
// neighbor indices valid.
func (idx *Index) DeleteByID(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i, ok := idx.byID[id]
	if !ok {
		return nil
	}
	idx.nodes[i].deleted = true
	delete(idx.byID, id)
	return nil
}

// Search implements [memindex.Index].
func (idx *Index) Search(ctx context.Context, query []float32, k int, filter *memindex.Filter) ([]memindex.Result, error) {
	if err := idx.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryNode == -1 {
		return nil, nil
	}

	cur := idx.entryNode
	for layer := idx.maxLevel; layer > 0; layer-- {
		cur = idx.greedyDescend(cur, query, layer)
	}

	ef := idx.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := idx.searchLayer(query, cur, ef, 0)

	out := make([]memindex.Result, 0, k)
	for _, c := range candidates {
		n := idx.nodes[c.idx]
		if n.deleted || !filter.Accepts(n.metadata) {
			continue
		}
		out = append(out, memindex.Result{
			ID:       n.id,
			Score:    memindex.NormalizeScore(idx.metric, rawFromInternal(idx.metric, c.d)),
			Metadata: n.metadata,
			Text:     n.text,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// rawFromInternal undoes the sign flip [Index.distanceTo] applies to
// similarity metrics so NormalizeScore sees the same raw convention the flat
// backend does (L2 distance as-is, cosine/inner-product as similarity).
func rawFromInternal(metric memindex.Metric, internal float64) float64 {
	if metric == memindex.MetricL2 {
		return internal
	}
	return -internal
}

// Size implements [memindex.Index]. Soft-deleted nodes are not counted.
func (idx *Index) Size(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID), nil
}

// Clear implements [memindex.Index].
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.nodes = idx.nodes[:0]
	idx.byID = make(map[string]int)
	idx.entryNode = -1
	idx.maxLevel = 0
	return nil
}

type snapshotEnvelope struct {
	Metric    memindex.Metric `json:"metric"`
	Dimension int             `json:"dimension"`
	Config    Config          `json:"config"`
	EntryNode int             `json:"entry_node"`
	MaxLevel  int             `json:"max_level"`
	Nodes     []nodeJS        `json:"nodes"`
}

type nodeJS struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector"`
	Metadata  string    `json:"metadata"`
	Text      string    `json:"text"`
	Level     int       `json:"level"`
	Neighbors [][]int   `json:"neighbors"`
	Deleted   bool      `json:"deleted"`
}

// Snapshot implements [memindex.Index]. It serializes the full graph,
// including tombstoned nodes, so Restore reproduces identical neighbor
// indices.
func (idx *Index) Snapshot(ctx context.Context) (memindex.Snapshot, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	env := snapshotEnvelope{
		Metric: idx.metric, Dimension: idx.dimension, Config: idx.cfg,
		EntryNode: idx.entryNode, MaxLevel: idx.maxLevel,
		Nodes: make([]nodeJS, len(idx.nodes)),
	}
	for i, n := range idx.nodes {
		env.Nodes[i] = nodeJS{
			ID: n.id, Vector: n.vector, Metadata: n.metadata, Text: n.text,
			Level: n.level, Neighbors: n.neighbors, Deleted: n.deleted,
		}
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("memindex/hnsw: snapshot: %w", err)
	}
	return buf, nil
}

// Restore implements [memindex.Index].
func (idx *Index) Restore(ctx context.Context, snap memindex.Snapshot) error {
	var env snapshotEnvelope
	if err := json.Unmarshal(snap, &env); err != nil {
		return fmt.Errorf("memindex/hnsw: restore: %w", err)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.metric = env.Metric
	idx.dimension = env.Dimension
	idx.cfg = env.Config.withDefaults()
	idx.entryNode = env.EntryNode
	idx.maxLevel = env.MaxLevel
	idx.nodes = make([]*node, len(env.Nodes))
	idx.byID = make(map[string]int, len(env.Nodes))
	for i, n := range env.Nodes {
		idx.nodes[i] = &node{
			id: n.ID, vector: n.Vector, metadata: n.Metadata, text: n.Text,
			level: n.Level, neighbors: n.Neighbors, deleted: n.Deleted,
		}
		if !n.Deleted {
			idx.byID[n.ID] = i
		}
	}
	return nil
}

func rawDistance(metric memindex.Metric, a, b []float32) float64 {
	switch metric {
	case memindex.MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum
	case memindex.MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	case memindex.MetricInnerProduct:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default:
		return 0
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
