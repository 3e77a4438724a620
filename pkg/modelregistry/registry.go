// Package modelregistry implements the in-memory, persistence-free store of
// model descriptors described in spec §4.4: a primary map keyed by model_id,
// secondary indices by capability and by framework, and a directory scan
// that synthesizes descriptors for recognized file extensions.
//
// Writes are serialized behind a single mutex; reads operate against an
// atomically swapped snapshot so lookups never block on a concurrent write,
// mirroring the copy-on-write pattern the teacher repo uses for its config
// registry reads.
package modelregistry

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/runanywhere/racore/pkg/platform"
	"github.com/runanywhere/racore/pkg/racerr"
)

// Capability names a vtable kind a model descriptor can serve.
type Capability string

const (
	CapabilityLLM        Capability = "llm"
	CapabilitySTT        Capability = "stt"
	CapabilityTTS        Capability = "tts"
	CapabilityVAD        Capability = "vad"
	CapabilityEmbeddings Capability = "embeddings"
	CapabilityVLM        Capability = "vlm"
	CapabilityDiffusion  Capability = "diffusion"
)

// Framework names the backend runtime a model file targets.
type Framework string

const (
	FrameworkLlamaCPP  Framework = "llamacpp"
	FrameworkONNX      Framework = "onnx"
	FrameworkWhisperCPP Framework = "whispercpp"
	FrameworkCoreML    Framework = "coreml"
	FrameworkMLX       Framework = "mlx"
	FrameworkNone      Framework = "none" // cloud/remote fallback providers
)

// Descriptor is the metadata the registry stores for one model.
type Descriptor struct {
	ModelID          string
	Path             string
	Capability       Capability
	Framework        Framework
	SizeBytes        int64
	ContextLength    int
	ExecutionProvider string // opaque NPU/QNN/NNAPI hint, never branched on by the core
	Extra            map[string]string
}

// discoveryExtensions maps a recognized model file extension to the
// framework it implies, recovered from the original source's backend
// registration tables (SPEC_FULL §4 Supplemented Features).
var discoveryExtensions = map[string]Framework{
	".gguf":     FrameworkLlamaCPP,
	".onnx":     FrameworkONNX,
	".bin":      FrameworkCoreML,
	".mlmodelc": FrameworkCoreML,
}

// snapshot is an immutable view of the registry's contents, swapped in on
// every write so concurrent reads never take a lock.
type snapshot struct {
	byID          map[string]Descriptor
	byCapability  map[Capability][]Descriptor
	byFramework   map[Framework][]Descriptor
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:         make(map[string]Descriptor),
		byCapability: make(map[Capability][]Descriptor),
		byFramework:  make(map[Framework][]Descriptor),
	}
}

func (s *snapshot) clone() *snapshot {
	next := emptySnapshot()
	for k, v := range s.byID {
		next.byID[k] = v
	}
	for k, v := range s.byCapability {
		next.byCapability[k] = append([]Descriptor(nil), v...)
	}
	for k, v := range s.byFramework {
		next.byFramework[k] = append([]Descriptor(nil), v...)
	}
	return next
}

// Registry is a process-wide model descriptor store. The zero value is not
// usable; construct with [New].
type Registry struct {
	mu  sync.Mutex // serializes writers only; readers never take this lock
	cur atomic.Pointer[snapshot]
}

// New constructs an empty [Registry].
func New() *Registry {
	r := &Registry{}
	r.cur.Store(emptySnapshot())
	return r
}

// Put inserts or replaces the descriptor for d.ModelID.
func (r *Registry) Put(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.cur.Load()
	next := cur.clone()

	if old, ok := next.byID[d.ModelID]; ok {
		next.byCapability[old.Capability] = removeByID(next.byCapability[old.Capability], old.ModelID)
		next.byFramework[old.Framework] = removeByID(next.byFramework[old.Framework], old.ModelID)
	}

	next.byID[d.ModelID] = d
	next.byCapability[d.Capability] = append(next.byCapability[d.Capability], d)
	next.byFramework[d.Framework] = append(next.byFramework[d.Framework], d)
	r.cur.Store(next)
}

// Get looks up a single descriptor by model_id.
func (r *Registry) Get(modelID string) (Descriptor, error) {
	cur := r.cur.Load()
	d, ok := cur.byID[modelID]
	if !ok {
		return Descriptor{}, racerr.New(racerr.ModelNotFound, "modelregistry", "Get", modelID, 0)
	}
	return d, nil
}

// ListByCapability returns all descriptors registered for capability, in
// insertion order.
func (r *Registry) ListByCapability(capability Capability) []Descriptor {
	cur := r.cur.Load()
	return append([]Descriptor(nil), cur.byCapability[capability]...)
}

// ListByFramework returns all descriptors registered for framework, in
// insertion order.
func (r *Registry) ListByFramework(framework Framework) []Descriptor {
	cur := r.cur.Load()
	return append([]Descriptor(nil), cur.byFramework[framework]...)
}

// Remove deletes modelID from the registry. Not an error if absent.
func (r *Registry) Remove(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.cur.Load()
	old, ok := cur.byID[modelID]
	if !ok {
		return
	}
	next := cur.clone()
	delete(next.byID, modelID)
	next.byCapability[old.Capability] = removeByID(next.byCapability[old.Capability], modelID)
	next.byFramework[old.Framework] = removeByID(next.byFramework[old.Framework], modelID)
	r.cur.Store(next)
}

func removeByID(list []Descriptor, modelID string) []Descriptor {
	out := list[:0]
	for _, d := range list {
		if d.ModelID != modelID {
			out = append(out, d)
		}
	}
	return out
}

// DiscoverDownloaded scans directory via the installed [platform.Adapter]
// (spec §4.3) is not available to this package directly — callers supply a
// lister so the registry stays decoupled from the platform singleton; see
// [DiscoverDownloadedWithPlatform] for the common case that uses the
// globally installed adapter.
func (r *Registry) DiscoverDownloaded(ctx context.Context, directory string, listFiles func(ctx context.Context, dir string) ([]string, error)) ([]Descriptor, error) {
	paths, err := listFiles(ctx, directory)
	if err != nil {
		return nil, err
	}

	var found []Descriptor
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		fw, ok := discoveryExtensions[ext]
		if !ok {
			continue
		}
		modelID := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		d := Descriptor{
			ModelID:    modelID,
			Path:       p,
			Capability: capabilityForFramework(fw),
			Framework:  fw,
		}
		r.Put(d)
		found = append(found, d)
	}
	return found, nil
}

// capabilityForFramework is a best-effort default used only by discovery,
// since a bare file extension can't distinguish an LLM gguf from a whisper
// gguf; discovery always defaults to CapabilityLLM and callers are expected
// to call Put again with the correct capability once they inspect the file.
func capabilityForFramework(fw Framework) Capability {
	if fw == FrameworkWhisperCPP {
		return CapabilitySTT
	}
	return CapabilityLLM
}

// adapterLister adapts an installed [platform.Adapter] into the listFiles
// shape [DiscoverDownloaded] expects. The adapter itself has no directory
// listing primitive in spec §4.3 (only file_exists/read/write/delete), so
// this helper is intentionally unexported scaffolding for embedders that
// maintain their own manifest file at directory/manifest.txt, one path per
// line — a common on-device pattern when a full readdir syscall isn't
// exposed through the adapter.
func adapterLister(a platform.Adapter) func(ctx context.Context, dir string) ([]string, error) {
	return func(ctx context.Context, dir string) ([]string, error) {
		manifestPath := filepath.Join(dir, "manifest.txt")
		data, err := a.FileRead(ctx, manifestPath)
		if err != nil {
			return nil, err
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		out := make([]string, 0, len(lines))
		for _, l := range lines {
			l = strings.TrimSpace(l)
			if l != "" {
				out = append(out, filepath.Join(dir, l))
			}
		}
		return out, nil
	}
}

// DiscoverDownloadedWithPlatform discovers models under directory using the
// currently installed [platform.Adapter] (spec §4.3) to read the directory's
// manifest file.
func (r *Registry) DiscoverDownloadedWithPlatform(ctx context.Context, directory string) ([]Descriptor, error) {
	a, err := platform.Current()
	if err != nil {
		return nil, err
	}
	return r.DiscoverDownloaded(ctx, directory, adapterLister(a))
}
