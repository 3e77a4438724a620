// Package rachandle implements the process-wide, type-tagged handle table
// described in spec §4.1. It maps opaque monotonically increasing 64-bit IDs
// to boxed component objects, and guarantees that a destroyed handle is never
// reissued and that lookups racing a destroy either succeed before removal
// or fail with [racerr.ErrInvalidHandle] after.
package rachandle

import (
	"sync"
	"sync/atomic"

	"github.com/runanywhere/racore/pkg/racerr"
)

// Tag identifies the concrete type boxed behind a [Handle], so that
// [Registry.Lookup] can reject a handle used against the wrong accessor
// without a type assertion panicking.
type Tag int

const (
	// TagUnknown is the zero value and never assigned to a real entry.
	TagUnknown Tag = iota
	TagLLMComponent
	TagSTTComponent
	TagTTSComponent
	TagVADComponent
	TagEmbeddingsComponent
	TagVLMComponent
	TagDiffusionComponent
	TagMemoryIndex
	TagRAGPipeline
	TagSTTStreamSession
)

// Handle is an opaque 64-bit identifier paired with its type [Tag]. The zero
// Handle is never issued by [Registry.Register] and is always invalid.
type Handle struct {
	id  uint64
	tag Tag
}

// ID returns the raw numeric handle value, useful for embedding in log lines
// or C ABI out-parameters.
func (h Handle) ID() uint64 { return h.id }

// Tag returns the type tag the handle was registered with.
func (h Handle) Tag() Tag { return h.tag }

// Valid reports whether h could possibly have been issued by a [Registry]
// (a zero-ID handle is always invalid; this does not check liveness).
func (h Handle) Valid() bool { return h.id != 0 }

// entry boxes the owned object with its tag and a destroyed flag. The
// registry keeps no count of outstanding Lookups and Destroy does not wait
// for them; in-flight operations are governed by the component's own lock.
type entry struct {
	object  any
	tag     Tag
	destroy atomic.Bool
}

// Registry is a process-wide, sharded, type-tagged handle table. Reads take
// a per-shard read lock (spec §5 "Shared resource policy"); writes
// (Register/Destroy) take the per-shard write lock.
type Registry struct {
	nextID atomic.Uint64

	shardMask uint64
	shards    []shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
}

const defaultShardCount = 16

// NewRegistry constructs an empty [Registry] ready for concurrent use.
func NewRegistry() *Registry {
	r := &Registry{
		shardMask: defaultShardCount - 1,
		shards:    make([]shard, defaultShardCount),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[uint64]*entry)
	}
	return r
}

func (r *Registry) shardFor(id uint64) *shard {
	return &r.shards[id&r.shardMask]
}

// Register assigns a new monotonically increasing handle to object under
// tag and stores it. Handles are never reissued, even after [Registry.Destroy].
func (r *Registry) Register(object any, tag Tag) Handle {
	id := r.nextID.Add(1)
	s := r.shardFor(id)
	s.mu.Lock()
	s.entries[id] = &entry{object: object, tag: tag}
	s.mu.Unlock()
	return Handle{id: id, tag: tag}
}

// Lookup resolves h to its boxed object. It fails with
// [racerr.ErrInvalidHandle] if h was never issued or has been destroyed, and
// with a tag-mismatch [racerr.Error] if h was registered under a different
// tag than expected.
func (r *Registry) Lookup(h Handle, expected Tag) (any, error) {
	if !h.Valid() {
		return nil, racerr.New(racerr.InvalidHandle, "rachandle", "lookup", "zero handle", h.id)
	}
	s := r.shardFor(h.id)
	s.mu.RLock()
	e, ok := s.entries[h.id]
	s.mu.RUnlock()
	if !ok || e.destroy.Load() {
		return nil, racerr.New(racerr.InvalidHandle, "rachandle", "lookup", "handle not registered or destroyed", h.id)
	}
	if e.tag != expected {
		return nil, racerr.New(racerr.InvalidArgument, "rachandle", "lookup", "handle type mismatch", h.id)
	}
	return e.object, nil
}

// Destroy removes h from the table and invokes cleanup(object) exactly once.
// Concurrent Destroy calls on the same handle are idempotent: only the first
// caller runs cleanup, and both calls return nil. cleanup is invoked with the
// entry already removed from the map, so concurrent Lookups started after
// this call has begun can no longer observe it; Lookups that started earlier
// and already obtained the object may continue running to completion, since
// the component's own lock (not the registry's) governs in-flight operations
// (spec §4.1 invariant: operations begun before destroy run to completion
// under the component's own lock).
func (r *Registry) Destroy(h Handle, cleanup func(object any)) error {
	if !h.Valid() {
		return nil
	}
	s := r.shardFor(h.id)
	s.mu.Lock()
	e, ok := s.entries[h.id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !e.destroy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, h.id)
	s.mu.Unlock()

	if cleanup != nil {
		cleanup(e.object)
	}
	return nil
}

// Len returns the number of currently live handles. Intended for tests and
// diagnostics, not for production control flow.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		n += len(r.shards[i].entries)
		r.shards[i].mu.RUnlock()
	}
	return n
}
