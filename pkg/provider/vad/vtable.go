package vad

import (
	"context"
	"sync"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
)

// Vtable adapts an [Engine] to the VAD capability service shape of spec
// §4.6: create/destroy/is_ready plus process, detect_segments,
// set_threshold, reset.
//
// Unlike LLM/STT/TTS, a VAD backend handle here maps 1:1 onto a single
// [SessionHandle] rather than a factory the capability opens sessions from,
// since spec §4.6 defines VAD's operations directly against "the backend
// handle" with no separate streaming-session concept.
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
// call (spec §4.2). Left optional since per-frame publication adds overhead
// a voice pipeline running at audio rate may not want.
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "vad", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs a VAD [Vtable] backed by registry.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// backend carries the [lifecycle.Component] alongside the session so
// Process rejects overlapping calls on the same handle the same way every
// other capability does, even though a single frame's processing is brief
// enough that contention should be rare in practice.
type backend struct {
	mu       sync.Mutex
	engine   Engine
	session  SessionHandle
	cfg      Config
	lc       *lifecycle.Component
	observer lifecycle.Observer
}

func nowMs() int64 { return time.Now().UnixMilli() }

// ensureReady self-heals a component left in [lifecycle.StateError] by a
// prior frame's failure, since one bad frame shouldn't strand every frame
// after it.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// Create opens a new VAD session from engine using cfg and registers it.
func (v *Vtable) Create(engine Engine, cfg Config) (rachandle.Handle, error) {
	session, err := engine.NewSession(cfg)
	if err != nil {
		return rachandle.Handle{}, racerr.New(racerr.ModelLoadFailed, "vad", "create", err.Error(), 0)
	}
	b := &backend{engine: engine, session: session, cfg: cfg, observer: v.observer}
	b.lc = lifecycle.New(
		func(ctx context.Context, _ string, _ map[string]any) (lifecycle.Backend, error) { return session, nil },
		nil, nil, v.observer,
	)
	_ = b.lc.Load(context.Background(), "preloaded", nil)
	h := v.registry.Register(b, rachandle.TagVADComponent)
	return h, nil
}

// Destroy closes the session bound to h.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(obj any) {
		_ = obj.(*backend).session.Close()
	})
}

// IsReady reports whether h is a live VAD session handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagVADComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagVADComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Process analyses a single frame and reports whether it is classified as
// speech, along with the raw event for callers that want the full detail.
func (v *Vtable) Process(h rachandle.Handle, samples []byte) (isSpeech bool, evt VADEvent, err error) {
	b, err := v.lookup(h)
	if err != nil {
		return false, VADEvent{}, err
	}
	ctx := context.Background()
	b.ensureReady(ctx)

	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		e, perr := b.session.ProcessFrame(samples)
		if perr != nil {
			return racerr.New(racerr.InferenceFailed, "vad", "process", perr.Error(), h.ID())
		}
		reportFirstToken()
		evt = e
		return nil
	})
	v.publish(h, "process", callErr)
	if callErr != nil {
		return false, VADEvent{}, callErr
	}
	isSpeech = evt.Type == VADSpeechStart || evt.Type == VADSpeechContinue
	return isSpeech, evt, nil
}

// Segment is a contiguous speech region found by DetectSegments, expressed
// as byte offsets into the buffer passed to it.
type Segment struct {
	StartSample int
	EndSample   int
}

// DetectSegments runs Process over fixed-size frames sliced from samples and
// coalesces contiguous speech frames into [Segment] ranges. frameSizeBytes
// must match the byte size of one frame of the session's configured
// FrameSizeMs at its SampleRate.
func (v *Vtable) DetectSegments(h rachandle.Handle, samples []byte, frameSizeBytes int) ([]Segment, error) {
	if frameSizeBytes <= 0 {
		return nil, racerr.New(racerr.InvalidArgument, "vad", "detect_segments", "frameSizeBytes must be positive", h.ID())
	}
	var segments []Segment
	inSpeech := false
	segStart := 0
	for offset := 0; offset+frameSizeBytes <= len(samples); offset += frameSizeBytes {
		isSpeech, _, err := v.Process(h, samples[offset:offset+frameSizeBytes])
		if err != nil {
			return nil, err
		}
		switch {
		case isSpeech && !inSpeech:
			inSpeech = true
			segStart = offset
		case !isSpeech && inSpeech:
			inSpeech = false
			segments = append(segments, Segment{StartSample: segStart, EndSample: offset})
		}
	}
	if inSpeech {
		segments = append(segments, Segment{StartSample: segStart, EndSample: len(samples)})
	}
	return segments, nil
}

// SetThreshold updates the session's speech-classification threshold. VAD
// sessions in this runtime re-create themselves on threshold change, since
// [SessionHandle] exposes no native threshold setter — the next Process call
// uses the new value via a fresh session opened with the same engine.
func (v *Vtable) SetThreshold(h rachandle.Handle, speechThreshold, silenceThreshold float64) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	newCfg := b.cfg
	newCfg.SpeechThreshold = speechThreshold
	newCfg.SilenceThreshold = silenceThreshold
	newSession, err := b.engine.NewSession(newCfg)
	if err != nil {
		return racerr.New(racerr.ModelLoadFailed, "vad", "set_threshold", err.Error(), h.ID())
	}
	_ = b.session.Close()
	b.session = newSession
	b.cfg = newCfg
	b.lc = lifecycle.New(
		func(ctx context.Context, _ string, _ map[string]any) (lifecycle.Backend, error) { return newSession, nil },
		nil, nil, b.observer,
	)
	_ = b.lc.Load(context.Background(), "preloaded", nil)
	return nil
}

// Reset clears the session's accumulated detection state.
func (v *Vtable) Reset(h rachandle.Handle) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session.Reset()
	return nil
}
