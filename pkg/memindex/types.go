// Package memindex defines the Memory (vector) Index vtable shared by the
// flat, HNSW, and pgvector backends (§4.9): a fixed-dimension vector store
// keyed by chunk ID with an opaque metadata string and the chunk's source
// text, supporting add/update/delete_by_id/search/size/clear/snapshot/restore.
//
// The three backends (pkg/memindex/flat, pkg/memindex/hnsw,
// pkg/memindex/pgvectorstore) all implement [Index] so the RAG pipeline and
// the capability vtable layer can swap between them without caring which is
// in use.
package memindex

import "context"

// Metric is a configured distance function, fixed for the lifetime of an
// index at creation time — all entries in one index share one Metric.
type Metric int

const (
	// MetricL2 is Euclidean distance; smaller distance means closer.
	MetricL2 Metric = iota
	// MetricCosine is cosine similarity; larger means closer.
	MetricCosine
	// MetricInnerProduct is the raw dot product; larger means closer.
	MetricInnerProduct
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricInnerProduct:
		return "inner_product"
	default:
		return "unknown"
	}
}

// Entry is one vector record: a unique ID, its fixed-dimension embedding, an
// opaque metadata blob (JSON-encoded by the caller), and the source text the
// vector was computed from.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata string
	Text     string
}

// Filter narrows a [Index.Search] call to entries whose Metadata satisfies
// Match. A nil Filter matches everything.
type Filter struct {
	Match func(metadata string) bool
}

// Accepts reports whether metadata passes f. A nil Filter, or one with a nil
// Match func, accepts everything.
func (f *Filter) Accepts(metadata string) bool {
	return f == nil || f.Match == nil || f.Match(metadata)
}

// Result is one ranked hit from [Index.Search]. Score is always normalized so
// that larger means better, regardless of the index's underlying [Metric]
// (for [MetricL2] this is the negated distance).
type Result struct {
	ID       string
	Score    float64
	Metadata string
	Text     string
}

// Snapshot is an opaque, backend-specific serialization of an index's full
// state, produced by [Index.Snapshot] and consumed by [Index.Restore].
type Snapshot []byte

// Index is the vtable every Memory Index backend implements (spec §4.9).
// Implementations allow many concurrent readers (Search, Size) but serialize
// writers (Add, Update, DeleteByID, Clear, Restore) against both each other
// and any in-flight reader.
type Index interface {
	// Add inserts a new entry. Behavior on a duplicate ID is
	// implementation-defined; callers that need upsert semantics should call
	// Update explicitly.
	Add(ctx context.Context, e Entry) error

	// Update replaces the vector/metadata/text of an existing entry,
	// identified by e.ID. It behaves as an upsert: a missing ID is inserted.
	Update(ctx context.Context, e Entry) error

	// DeleteByID removes the entry with the given ID. Deleting an absent ID
	// is not an error.
	DeleteByID(ctx context.Context, id string) error

	// Search returns the top-k entries closest to query under the index's
	// configured Metric, most-similar first, restricted by filter.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]Result, error)

	// Size returns the number of live entries.
	Size(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Snapshot serializes the full index state for later [Index.Restore].
	Snapshot(ctx context.Context) (Snapshot, error)

	// Restore replaces the index's entire state with the contents of snap,
	// which must have been produced by a prior call to Snapshot on a
	// same-dimension, same-metric index.
	Restore(ctx context.Context, snap Snapshot) error
}

// NormalizeScore maps a raw distance/similarity value computed under metric
// to the "larger is better" convention [Result.Score] promises (spec §4.9):
// [MetricL2] distances are negated; cosine similarity and inner product are
// already larger-is-better and pass through unchanged.
func NormalizeScore(metric Metric, raw float64) float64 {
	if metric == MetricL2 {
		return -raw
	}
	return raw
}
