package memindex

import (
	"context"

	"github.com/runanywhere/racore/pkg/rachandle"
)

// Vtable exposes any [Index] implementation behind the opaque handle
// addressing scheme shared by every capability service (spec §4.6), so the
// RAG pipeline and external callers can hold a [rachandle.Handle] rather
// than a concrete backend type.
type Vtable struct {
	registry *rachandle.Registry
}

// NewVtable constructs a [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry) *Vtable {
	return &Vtable{registry: registry}
}

// Create registers idx and returns a handle to it. idx may be a
// pkg/memindex/flat.Index, pkg/memindex/hnsw.Index, or
// pkg/memindex/pgvectorstore.Store — anything implementing [Index].
func (v *Vtable) Create(idx Index) rachandle.Handle {
	return v.registry.Register(idx, rachandle.TagMemoryIndex)
}

// Destroy invalidates h. idx itself is not closed, since [Index]
// implementations that own external resources (pgvectorstore.Store) expose
// their own Close — callers are responsible for calling it after Destroy.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(object any) {})
}

func (v *Vtable) lookup(h rachandle.Handle) (Index, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagMemoryIndex)
	if err != nil {
		return nil, err
	}
	return obj.(Index), nil
}

// Add implements the vtable's add operation.
func (v *Vtable) Add(ctx context.Context, h rachandle.Handle, e Entry) error {
	idx, err := v.lookup(h)
	if err != nil {
		return err
	}
	return idx.Add(ctx, e)
}

// Update implements the vtable's update operation.
func (v *Vtable) Update(ctx context.Context, h rachandle.Handle, e Entry) error {
	idx, err := v.lookup(h)
	if err != nil {
		return err
	}
	return idx.Update(ctx, e)
}

// DeleteByID implements the vtable's delete_by_id operation.
func (v *Vtable) DeleteByID(ctx context.Context, h rachandle.Handle, id string) error {
	idx, err := v.lookup(h)
	if err != nil {
		return err
	}
	return idx.DeleteByID(ctx, id)
}

// Search implements the vtable's search operation.
func (v *Vtable) Search(ctx context.Context, h rachandle.Handle, query []float32, k int, filter *Filter) ([]Result, error) {
	idx, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, k, filter)
}

// Size implements the vtable's size operation.
func (v *Vtable) Size(ctx context.Context, h rachandle.Handle) (int, error) {
	idx, err := v.lookup(h)
	if err != nil {
		return 0, err
	}
	return idx.Size(ctx)
}

// Clear implements the vtable's clear operation.
func (v *Vtable) Clear(ctx context.Context, h rachandle.Handle) error {
	idx, err := v.lookup(h)
	if err != nil {
		return err
	}
	return idx.Clear(ctx)
}

// Snapshot implements the vtable's snapshot operation.
func (v *Vtable) Snapshot(ctx context.Context, h rachandle.Handle) (Snapshot, error) {
	idx, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	return idx.Snapshot(ctx)
}

// Restore implements the vtable's restore operation.
func (v *Vtable) Restore(ctx context.Context, h rachandle.Handle, snap Snapshot) error {
	idx, err := v.lookup(h)
	if err != nil {
		return err
	}
	return idx.Restore(ctx, snap)
}
