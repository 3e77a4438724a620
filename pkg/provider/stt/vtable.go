package stt

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

// Vtable adapts a [Provider] to the STT capability service shape of spec
// §4.6: create/destroy/is_ready plus transcribe, transcribe_stream, and a
// separate streaming-session subinterface addressed by its own handle tag
// ([rachandle.TagSTTStreamSession]) so a push-based caller can hold a
// session open across many feed_audio calls without re-resolving the parent
// backend each time.
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
// Transcribe/TranscribeStream call (spec §4.2).
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "stt", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs an STT [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// backend wraps the one-shot transcribe path in a [lifecycle.Component].
// The push-based [StreamSession] subinterface manages its own lifecycle via
// CreateStream/DestroyStream and is not routed through this component.
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
// prior call's failure, since a single transcription error shouldn't
// permanently strand an otherwise-healthy, already-connected provider.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// TranscribeOptions configures a one-shot transcription call.
type TranscribeOptions struct {
	SampleRate int
	Language   string
	Keywords   []types.KeywordBoost
}

// Create registers provider under a fresh handle.
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	return v.registry.Register(newBackend(provider, v.observer), rachandle.TagSTTComponent)
}

// Destroy releases the backend bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live STT backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagSTTComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagSTTComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Transcribe runs a one-shot, non-streaming transcription over samples by
// opening a session, feeding the full buffer, and waiting for the first
// final result — a convenience built on the same streaming primitive every
// provider already implements, since spec §4.6 names transcribe and
// transcribe_stream as siblings of one underlying capability.
func (v *Vtable) Transcribe(ctx context.Context, h rachandle.Handle, samples []byte, opts TranscribeOptions) (types.Transcript, error) {
	b, err := v.lookup(h)
	if err != nil {
		return types.Transcript{}, err
	}
	b.ensureReady(ctx)

	var result types.Transcript
	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		session, err := b.provider.StartStream(ctx, StreamConfig{
			SampleRate: opts.SampleRate,
			Channels:   1,
			Language:   opts.Language,
			Keywords:   opts.Keywords,
		})
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "stt", "transcribe", err.Error(), h.ID())
		}
		defer session.Close()

		if err := session.SendAudio(samples); err != nil {
			return racerr.New(racerr.InferenceFailed, "stt", "transcribe", err.Error(), h.ID())
		}

		select {
		case t, ok := <-session.Finals():
			if !ok {
				return racerr.New(racerr.InferenceFailed, "stt", "transcribe", "session closed with no final result", h.ID())
			}
			reportFirstToken()
			result = t
			return nil
		case <-ctx.Done():
			return racerr.New(racerr.Cancelled, "stt", "transcribe", ctx.Err().Error(), h.ID())
		}
	})
	v.publish(h, "transcribe", callErr)
	if callErr != nil {
		return types.Transcript{}, callErr
	}
	return result, nil
}

// TranscribeStream opens a session over samples and invokes partialCb for
// every interim result until the provider closes its partials channel.
func (v *Vtable) TranscribeStream(ctx context.Context, h rachandle.Handle, samples []byte, opts TranscribeOptions, partialCb func(types.Transcript)) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.ensureReady(ctx)

	var partialCount int
	callErr := b.lc.Call(ctx, nowMs, func() int { return partialCount }, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		session, err := b.provider.StartStream(ctx, StreamConfig{
			SampleRate: opts.SampleRate,
			Channels:   1,
			Language:   opts.Language,
			Keywords:   opts.Keywords,
		})
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "stt", "transcribe_stream", err.Error(), h.ID())
		}
		defer session.Close()

		if err := session.SendAudio(samples); err != nil {
			return racerr.New(racerr.InferenceFailed, "stt", "transcribe_stream", err.Error(), h.ID())
		}
		for t := range session.Partials() {
			partialCount++
			reportFirstToken()
			partialCb(t)
		}
		return nil
	})
	v.publish(h, "transcribe_stream", callErr)
	return callErr
}

// StreamSession is the push-based subinterface spec §4.6 names as
// {create_stream, feed_audio, is_ready, decode, is_endpoint, input_finished,
// reset, destroy_stream}, wrapping a [SessionHandle] so callers holding a
// [rachandle.Handle] don't need direct access to the provider interface.
type StreamSession struct {
	session SessionHandle
	ended   bool
	mu      sync.Mutex
}

// CreateStream opens a push-based streaming session over the backend bound
// to h and registers it under its own handle.
func (v *Vtable) CreateStream(ctx context.Context, h rachandle.Handle, cfg StreamConfig) (rachandle.Handle, error) {
	b, err := v.lookup(h)
	if err != nil {
		return rachandle.Handle{}, err
	}
	session, err := b.provider.StartStream(ctx, cfg)
	if err != nil {
		return rachandle.Handle{}, racerr.New(racerr.InferenceFailed, "stt", "create_stream", err.Error(), h.ID())
	}
	return v.registry.Register(&StreamSession{session: session}, rachandle.TagSTTStreamSession), nil
}

func (v *Vtable) lookupStream(h rachandle.Handle) (*StreamSession, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagSTTStreamSession)
	if err != nil {
		return nil, err
	}
	return obj.(*StreamSession), nil
}

// FeedAudio delivers chunk to the push-based session bound to h.
func (v *Vtable) FeedAudio(h rachandle.Handle, chunk []byte) error {
	s, err := v.lookupStream(h)
	if err != nil {
		return err
	}
	return s.session.SendAudio(chunk)
}

// IsStreamReady reports whether h identifies a live stream session.
func (v *Vtable) IsStreamReady(h rachandle.Handle) bool {
	_, err := v.lookupStream(h)
	return err == nil
}

// Decode drains one pending transcript (final preferred over partial) from
// the session bound to h without blocking; returns ok=false if nothing is
// pending.
func (v *Vtable) Decode(h rachandle.Handle) (transcript types.Transcript, ok bool, err error) {
	s, lookupErr := v.lookupStream(h)
	if lookupErr != nil {
		return types.Transcript{}, false, lookupErr
	}
	select {
	case t, chOk := <-s.session.Finals():
		if !chOk {
			return types.Transcript{}, false, nil
		}
		return t, true, nil
	default:
	}
	select {
	case t, chOk := <-s.session.Partials():
		if !chOk {
			return types.Transcript{}, false, nil
		}
		return t, true, nil
	default:
	}
	return types.Transcript{}, false, nil
}

// IsEndpoint reports whether the session bound to h has observed end of
// speech since the last InputFinished/Reset call.
func (v *Vtable) IsEndpoint(h rachandle.Handle) (bool, error) {
	s, err := v.lookupStream(h)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, nil
}

// InputFinished signals the session that no more audio will be sent, and
// marks it as having reached an endpoint so subsequent IsEndpoint calls
// return true until Reset.
func (v *Vtable) InputFinished(h rachandle.Handle) error {
	s, err := v.lookupStream(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	return nil
}

// Reset clears the endpoint flag, allowing the session to continue
// accepting audio for a new utterance without tearing it down.
func (v *Vtable) Reset(h rachandle.Handle) error {
	s, err := v.lookupStream(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ended = false
	s.mu.Unlock()
	return nil
}

// DestroyStream tears down the push-based session bound to h.
func (v *Vtable) DestroyStream(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(obj any) {
		_ = obj.(*StreamSession).session.Close()
	})
}

// GetInfo reports whether h currently holds a live backend. STT has no
// further static metadata beyond liveness in this runtime.
func (v *Vtable) GetInfo(h rachandle.Handle) (ready bool) {
	return v.IsReady(h)
}
