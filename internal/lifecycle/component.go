// Package lifecycle implements the Component Lifecycle state machine of
// spec §4.7: the idle→loading→ready→busy→ready state machine that wraps a
// capability vtable and exposes load/call/cancel/unload, capturing the six
// benchmark timestamps on every call.
//
// The state machine itself is capability-agnostic: it holds a caller-
// supplied create/destroy/operation closure triple rather than depending on
// any specific vtable package, so the same [Component] type backs LLM, STT,
// TTS, VAD, embeddings, VLM, and diffusion components alike.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/runanywhere/racore/pkg/racerr"
)

// State is one node of the lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateBusy
	StateCancelling
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateCancelling:
		return "cancelling"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Backend is the capability-specific object a [Component] wraps. It is
// created by Loader on load and destroyed on unload; Component itself never
// inspects it beyond passing it back into the caller-supplied operation
// closures.
type Backend any

// Loader resolves modelIDOrPath + config into a live backend handle,
// invoking the provider registry's selection algorithm and the capability
// vtable's create operation (spec §4.5, §4.6).
type Loader func(ctx context.Context, modelIDOrPath string, config map[string]any) (Backend, error)

// Unloader tears down a backend created by a [Loader].
type Unloader func(backend Backend)

// Canceller sets the backend's cancel flag, if the vtable provides one.
// May be nil, in which case cancel is purely advisory via the Component's
// own cancel flag.
type Canceller func(backend Backend)

// Timestamps captures the six timings spec §4.7 names for one capability
// call: t0=request_start, t2=prefill_start, t3=prefill_end,
// t4=first_token, t5=last_token, t6=request_end. [Component.Call] fills
// them itself: t2 is t0, t3 is t4, t5 is t6, and t4 is t6 when the op never
// reports a first token.
type Timestamps struct {
	T0RequestStart int64
	T2PrefillStart int64
	T3PrefillEnd   int64
	T4FirstToken   int64
	T5LastToken    int64
	T6RequestEnd   int64
}

// TTFTMs returns time-to-first-token in milliseconds.
func (t Timestamps) TTFTMs() int64 { return t.T4FirstToken - t.T0RequestStart }

// PrefillDurationMs returns the prefill phase duration in milliseconds.
func (t Timestamps) PrefillDurationMs() int64 { return t.T3PrefillEnd - t.T2PrefillStart }

// EndToEndLatencyMs returns the full request duration in milliseconds.
func (t Timestamps) EndToEndLatencyMs() int64 { return t.T6RequestEnd - t.T0RequestStart }

// DecodeTokensPerSecond returns decode-phase throughput given the number of
// tokens generated between T4 and T5. Returns 0 if the decode window is
// non-positive (single-token or non-streaming responses).
func (t Timestamps) DecodeTokensPerSecond(tokenCount int) float64 {
	windowMs := t.T5LastToken - t.T4FirstToken
	if windowMs <= 0 || tokenCount <= 0 {
		return 0
	}
	return float64(tokenCount) / (float64(windowMs) / 1000.0)
}

// Observer receives [Timestamps] after every successful call, typically
// feeding an internal/benchmark.Stats collector.
type Observer func(ts Timestamps, tokenCount int)

// Component wraps one capability instance with the state machine of spec
// §4.7. The zero value is not usable; construct with [New].
type Component struct {
	loader    Loader
	unloader  Unloader
	canceller Canceller
	observer  Observer

	mu         sync.Mutex
	state      State
	backend    Backend
	modelID    string
	cancelFlag atomic.Bool
}

// New constructs an idle [Component]. unloader and canceller may be nil;
// observer may be nil to disable benchmark capture.
func New(loader Loader, unloader Unloader, canceller Canceller, observer Observer) *Component {
	return &Component{loader: loader, unloader: unloader, canceller: canceller, observer: observer, state: StateIdle}
}

// State returns the component's current state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load resolves modelIDOrPath and transitions idle→loading→ready on
// success, or idle→loading→error on failure. A concurrent Load against an
// already-ready component succeeds immediately if modelIDOrPath matches the
// currently loaded model; otherwise it performs an implicit unload+reload
// (spec §4.7).
func (c *Component) Load(ctx context.Context, modelIDOrPath string, config map[string]any) error {
	c.mu.Lock()
	if c.state == StateReady && c.modelID == modelIDOrPath {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateReady || c.state == StateError {
		// implicit unload before reloading a different model
		c.mu.Unlock()
		if err := c.Unload(ctx); err != nil {
			return err
		}
		c.mu.Lock()
	}
	if c.state == StateLoading || c.state == StateBusy {
		c.mu.Unlock()
		return racerr.New(racerr.ComponentBusy, "lifecycle", "load", "component is already loading or busy", 0)
	}
	c.state = StateLoading
	c.mu.Unlock()

	backend, err := c.loader(ctx, modelIDOrPath, config)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateError
		return racerr.New(racerr.ModelLoadFailed, "lifecycle", "load", err.Error(), 0)
	}
	c.backend = backend
	c.modelID = modelIDOrPath
	c.state = StateReady
	c.cancelFlag.Store(false)
	return nil
}

// Call runs op against the loaded backend. It requires StateReady, flips to
// StateBusy for the duration, and flips back to StateReady on success or
// StateError on failure (except a Cancelled error, which returns to
// StateReady so the component remains usable). Concurrent calls while busy
// fail with [racerr.ErrComponentBusy].
//
// op receives the backend and a reportFirstToken callback the caller should
// invoke at its first streamed output, if any, to populate T4 in the
// observed [Timestamps]; synchronous ops may ignore it.
func (c *Component) Call(ctx context.Context, nowMs func() int64, tokenCount func() int, op func(ctx context.Context, backend Backend, reportFirstToken func()) error) error {
	c.mu.Lock()
	if c.state == StateBusy {
		c.mu.Unlock()
		return racerr.New(racerr.ComponentBusy, "lifecycle", "call", "component is already handling a call", 0)
	}
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return racerr.New(racerr.InvalidState, "lifecycle", "call", "component not ready (state="+state.String()+")", 0)
	}
	c.state = StateBusy
	backend := c.backend
	c.cancelFlag.Store(false)
	c.mu.Unlock()

	var ts Timestamps
	ts.T0RequestStart = nowMs()
	ts.T2PrefillStart = ts.T0RequestStart
	ts.T3PrefillEnd = ts.T0RequestStart
	firstTokenSet := false
	reportFirstToken := func() {
		if !firstTokenSet {
			ts.T4FirstToken = nowMs()
			firstTokenSet = true
		}
	}

	err := op(ctx, backend, reportFirstToken)

	ts.T6RequestEnd = nowMs()
	if !firstTokenSet {
		ts.T4FirstToken = ts.T6RequestEnd
	}
	ts.T5LastToken = ts.T6RequestEnd
	ts.T3PrefillEnd = ts.T4FirstToken

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if racerr.Is(err, racerr.Cancelled) {
			c.state = StateReady
		} else {
			c.state = StateError
		}
		return err
	}
	c.state = StateReady
	if c.observer != nil {
		tc := 0
		if tokenCount != nil {
			tc = tokenCount()
		}
		c.observer(ts, tc)
	}
	return nil
}

// Cancel sets the component's cancel flag and invokes the vtable canceller
// if one was supplied. Idempotent; callable from any goroutine.
func (c *Component) Cancel() {
	c.cancelFlag.Store(true)
	c.mu.Lock()
	backend := c.backend
	state := c.state
	c.mu.Unlock()
	if state == StateBusy && c.canceller != nil {
		c.canceller(backend)
	}
}

// Cancelled reports whether Cancel has been called since the last
// successful Load or the start of the latest Call, whichever came later.
func (c *Component) Cancelled() bool {
	return c.cancelFlag.Load()
}

// Unload tears down the backend unconditionally, cancelling any running
// operation first, and transitions to StateIdle.
func (c *Component) Unload(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateBusy {
		c.mu.Unlock()
		c.Cancel()
		c.mu.Lock()
	}
	backend := c.backend
	unloader := c.unloader
	c.backend = nil
	c.modelID = ""
	c.state = StateIdle
	c.mu.Unlock()

	if backend != nil && unloader != nil {
		unloader(backend)
	}
	return nil
}
