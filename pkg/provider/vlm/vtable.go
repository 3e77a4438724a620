package vlm

import (
	"context"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
)

// Vtable adapts a [Provider] to the VLM capability service shape of spec
// §4.6: create/destroy/is_ready plus process.
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

// WithBus publishes inference-end/error events on bus around every Process
// call (spec §4.2).
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "vlm", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs a VLM [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// backend boxes a Provider behind a [lifecycle.Component], so Process gets
// busy-rejection and benchmark timestamp capture like every other
// capability (spec §4.7).
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

func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// Create registers provider under a fresh handle.
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	return v.registry.Register(newBackend(provider, v.observer), rachandle.TagVLMComponent)
}

// Destroy releases the backend bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live VLM backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagVLMComponent)
	return err == nil
}

// Process runs req against the backend bound to h.
func (v *Vtable) Process(ctx context.Context, h rachandle.Handle, req Request) (Result, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagVLMComponent)
	if err != nil {
		return Result{}, err
	}
	b := obj.(*backend)
	b.ensureReady(ctx)

	var result Result
	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		r, err := b.provider.Process(ctx, req)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "vlm", "process", err.Error(), h.ID())
		}
		reportFirstToken()
		result = r
		return nil
	})
	v.publish(h, "process", callErr)
	if callErr != nil {
		return Result{}, callErr
	}
	return result, nil
}
