package tts

import (
	"context"
	"sync"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
	"github.com/runanywhere/racore/pkg/types"
)

// Vtable adapts a [Provider] to the TTS capability service shape of spec
// §4.6: create/destroy/is_ready plus synthesize, synthesize_stream, and
// get_voices.
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
// Synthesize/SynthesizeStream call (spec §4.2).
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "tts", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs a TTS [Vtable] backed by registry.
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
// prior call's failure, since a single synthesis error shouldn't
// permanently strand an otherwise-healthy, already-connected provider.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// Create registers provider under a fresh handle.
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	return v.registry.Register(newBackend(provider, v.observer), rachandle.TagTTSComponent)
}

// Destroy releases the backend bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live TTS backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagTTSComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagTTSComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Synthesize renders all of text to PCM audio in one call, built atop the
// provider's single streaming primitive by feeding it a single-value,
// immediately-closed text channel and concatenating the resulting chunks.
func (v *Vtable) Synthesize(ctx context.Context, h rachandle.Handle, text string, voice types.VoiceProfile) ([]byte, error) {
	b, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	b.ensureReady(ctx)

	var out []byte
	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		textCh := make(chan string, 1)
		textCh <- text
		close(textCh)

		audioCh, err := b.provider.SynthesizeStream(ctx, textCh, voice)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "tts", "synthesize", err.Error(), h.ID())
		}
		first := true
		for chunk := range audioCh {
			if first {
				reportFirstToken()
				first = false
			}
			out = append(out, chunk...)
		}
		return nil
	})
	v.publish(h, "synthesize", callErr)
	if callErr != nil {
		return nil, callErr
	}
	return out, nil
}

// SynthesizeStream pipes textCh through the backend and invokes chunkCb for
// every emitted PCM chunk until the provider closes its audio channel.
func (v *Vtable) SynthesizeStream(ctx context.Context, h rachandle.Handle, textCh <-chan string, voice types.VoiceProfile, chunkCb func([]byte)) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.ensureReady(ctx)

	var chunkCount int
	callErr := b.lc.Call(ctx, nowMs, func() int { return chunkCount }, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		audioCh, err := b.provider.SynthesizeStream(ctx, textCh, voice)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "tts", "synthesize_stream", err.Error(), h.ID())
		}
		for chunk := range audioCh {
			chunkCount++
			reportFirstToken()
			chunkCb(chunk)
		}
		return nil
	})
	v.publish(h, "synthesize_stream", callErr)
	return callErr
}

// GetVoices returns the backend's voice catalogue.
func (v *Vtable) GetVoices(ctx context.Context, h rachandle.Handle) ([]types.VoiceProfile, error) {
	b, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	voices, err := b.provider.ListVoices(ctx)
	if err != nil {
		return nil, racerr.New(racerr.InferenceFailed, "tts", "get_voices", err.Error(), h.ID())
	}
	return voices, nil
}

// CloneVoice forwards to the backend's voice cloning support.
func (v *Vtable) CloneVoice(ctx context.Context, h rachandle.Handle, samples [][]byte) (*types.VoiceProfile, error) {
	b, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	voice, err := b.provider.CloneVoice(ctx, samples)
	if err != nil {
		return nil, racerr.New(racerr.InferenceFailed, "tts", "clone_voice", err.Error(), h.ID())
	}
	return voice, nil
}
