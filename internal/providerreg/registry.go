// Package providerreg implements the Provider Registry described in spec
// §4.5: a static, process-wide list of (capability, framework, priority,
// vtable, can_handle) tuples, selected via
// filter-by-capability → filter-by-framework → sort-by-priority →
// first-can-handle. It generalizes the teacher's "provider name → factory"
// registry (internal/config/registry.go) from a single-key lookup to this
// ranked, predicate-gated selection algorithm.
package providerreg

import (
	"fmt"
	"sort"
	"sync"

	"github.com/runanywhere/racore/pkg/modelregistry"
	"github.com/runanywhere/racore/pkg/racerr"
)

// CanHandleFunc reports whether a registered provider can serve descriptor.
type CanHandleFunc func(descriptor modelregistry.Descriptor) bool

// Entry is one registered provider tuple (spec §4.5).
type Entry struct {
	ProviderID string
	Capability modelregistry.Capability
	Framework  modelregistry.Framework
	Priority   int
	Vtable     any // the capability's *Vtable (llm.Vtable, stt.Vtable, …); type-asserted by the caller
	CanHandle  CanHandleFunc
}

// Registry holds every registered [Entry], keyed internally by ProviderID so
// re-registration under the same ID is idempotent (spec §4.5).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty [Registry].
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces e, keyed by e.ProviderID.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]Entry)
	}
	r.entries[e.ProviderID] = e
}

// Unregister removes providerID. Not an error if absent.
func (r *Registry) Unregister(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, providerID)
}

// Select runs the spec §4.5 algorithm: filter by capability, optionally by
// an exact framework match, sort by priority descending, and return the
// first entry whose CanHandle(descriptor) is true. frameworkHint may be the
// zero value to mean "no preference" (keep all frameworks).
func (r *Registry) Select(capability modelregistry.Capability, frameworkHint modelregistry.Framework, descriptor modelregistry.Descriptor) (Entry, error) {
	r.mu.RLock()
	candidates := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Capability != capability {
			continue
		}
		if frameworkHint != "" && e.Framework != frameworkHint {
			continue
		}
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	for _, e := range candidates {
		if e.CanHandle == nil || e.CanHandle(descriptor) {
			return e, nil
		}
	}
	return Entry{}, racerr.New(racerr.ProviderNotFound, "providerreg", "Select",
		fmt.Sprintf("no provider for capability=%s framework_hint=%q model=%q", capability, frameworkHint, descriptor.ModelID), 0)
}

// List returns every registered entry for capability, unsorted. Intended
// for diagnostics/introspection, not the hot selection path.
func (r *Registry) List(capability modelregistry.Capability) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Capability == capability {
			out = append(out, e)
		}
	}
	return out
}
