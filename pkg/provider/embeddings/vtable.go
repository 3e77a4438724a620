package embeddings

import (
	"context"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
)

// Vtable adapts a [Provider] to the embeddings capability service shape of
// spec §4.6: create/destroy/is_ready plus embed, embed_batch, dimension.
type Vtable struct {
	registry *rachandle.Registry
	observer lifecycle.Observer
	bus      *racevent.Bus
}

// Option configures optional [Vtable] behavior.
type Option func(*Vtable)

// WithObserver attaches an [lifecycle.Observer] to every component this
// Vtable creates.
func WithObserver(o lifecycle.Observer) Option {
	return func(v *Vtable) { v.observer = o }
}

// WithBus publishes inference-end/error events on bus around every
// Embed/EmbedBatch call (spec §4.2).
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "embeddings", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs an embeddings [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// backend boxes a Provider behind a [lifecycle.Component], giving embed
// calls the same busy-rejection and benchmark timestamp capture as every
// other capability (spec §4.7).
type backend struct {
	provider Provider
	lc       *lifecycle.Component
}

func nowMs() int64 { return time.Now().UnixMilli() }

func newBackend(provider Provider, observer lifecycle.Observer) *backend {
	b := &backend{provider: provider}
	b.lc = lifecycle.New(
		func(ctx context.Context, _ string, _ map[string]any) (lifecycle.Backend, error) { return provider, nil },
		nil, nil, observer,
	)
	_ = b.lc.Load(context.Background(), "preloaded", nil)
	return b
}

// ensureReady self-heals a component left in [lifecycle.StateError] by a
// prior call's failure, since a single embedding error shouldn't
// permanently strand an otherwise-healthy, already-connected provider.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// Create registers provider under a fresh handle.
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	return v.registry.Register(newBackend(provider, v.observer), rachandle.TagEmbeddingsComponent)
}

// Destroy releases the backend bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live embeddings backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagEmbeddingsComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagEmbeddingsComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Embed computes the embedding vector for a single string.
func (v *Vtable) Embed(ctx context.Context, h rachandle.Handle, text string) ([]float32, error) {
	b, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	b.ensureReady(ctx)

	var vec []float32
	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		result, err := b.provider.Embed(ctx, text)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "embeddings", "embed", err.Error(), h.ID())
		}
		reportFirstToken()
		vec = result
		return nil
	})
	v.publish(h, "embed", callErr)
	if callErr != nil {
		return nil, callErr
	}
	return vec, nil
}

// EmbedBatch computes embedding vectors for texts in one provider call.
func (v *Vtable) EmbedBatch(ctx context.Context, h rachandle.Handle, texts []string) ([][]float32, error) {
	b, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	b.ensureReady(ctx)

	var vecs [][]float32
	callErr := b.lc.Call(ctx, nowMs, func() int { return len(texts) }, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		result, err := b.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "embeddings", "embed_batch", err.Error(), h.ID())
		}
		reportFirstToken()
		vecs = result
		return nil
	})
	v.publish(h, "embed_batch", callErr)
	if callErr != nil {
		return nil, callErr
	}
	return vecs, nil
}

// Dimension returns the fixed embedding vector length for h's backend.
func (v *Vtable) Dimension(h rachandle.Handle) (int, error) {
	b, err := v.lookup(h)
	if err != nil {
		return 0, err
	}
	return b.provider.Dimensions(), nil
}
