package diffusion

import (
	"context"
	"sync"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
)

// Vtable adapts a [Provider] to the diffusion capability service shape of
// spec §4.6: create/destroy/is_ready/cancel plus generate.
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

// WithBus publishes inference-end/error events on bus around every Generate
// call (spec §4.2).
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "diffusion", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs a diffusion [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type backend struct {
	mu       sync.Mutex
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
// prior call's failure, since a single generation error shouldn't
// permanently strand an otherwise-healthy, already-connected provider.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// Create registers provider under a fresh handle.
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	return v.registry.Register(newBackend(provider, v.observer), rachandle.TagDiffusionComponent)
}

// Destroy releases the backend bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live diffusion backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagDiffusionComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagDiffusionComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Generate runs opts against the backend bound to h, calling progressCb
// (which may be nil) once per step and aborting with
// [racerr.ErrCancelled] if Cancel was called since the request began. The
// call runs inside the backend's [lifecycle.Component], so an overlapping
// Generate on the same handle is rejected with racerr.ComponentBusy.
func (v *Vtable) Generate(ctx context.Context, h rachandle.Handle, opts Options, progressCb func(Progress)) (Image, error) {
	b, err := v.lookup(h)
	if err != nil {
		return Image{}, err
	}
	b.ensureReady(ctx)

	var img Image
	var stepCount int
	callErr := b.lc.Call(ctx, nowMs, func() int { return stepCount }, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		wrapped := progressCb
		if progressCb != nil {
			wrapped = func(p Progress) {
				stepCount++
				reportFirstToken()
				progressCb(p)
			}
		}

		result, err := b.provider.Generate(ctx, opts, wrapped)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "diffusion", "generate", err.Error(), h.ID())
		}
		if b.lc.Cancelled() {
			return racerr.New(racerr.Cancelled, "diffusion", "generate", "cancelled", h.ID())
		}
		img = result
		return nil
	})
	v.publish(h, "generate", callErr)
	if callErr != nil {
		return Image{}, callErr
	}
	return img, nil
}

// Cancel sets the backend's cancel flag. The underlying [Provider] is not
// required to observe it mid-step; Generate checks it once the call
// returns, giving at-least-eventual cancellation semantics for backends
// without native step-level interruption (spec §4.7 cancel is "advisory via
// the cancel flag only" when the vtable provides no cancel hook).
func (v *Vtable) Cancel(h rachandle.Handle) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.lc.Cancel()
	return nil
}
