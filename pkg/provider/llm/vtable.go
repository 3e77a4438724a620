package llm

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/runanywhere/racore/internal/lifecycle"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/racevent"
	"github.com/runanywhere/racore/pkg/types"
)

// Vtable adapts a [Provider] to the capability-service shape every
// component in the runtime core exposes: create/destroy/is_ready plus
// capability-specific operations, all addressed through an opaque
// [rachandle.Handle] rather than a raw *Provider pointer (spec §4.6).
//
// A Vtable is shared process-wide; backend state lives in the handle
// registry, not in the Vtable value itself, so a single Vtable can back any
// number of concurrently loaded LLM components.
type Vtable struct {
	registry *rachandle.Registry
	observer lifecycle.Observer
	bus      *racevent.Bus
}

// Option configures optional [Vtable] behavior.
type Option func(*Vtable)

// WithObserver attaches an [lifecycle.Observer] — typically
// [internal/benchmark.Stats.Observer] — to every component this Vtable
// creates, so each call's six benchmark timestamps (spec §4.7) reach a
// collector.
func WithObserver(o lifecycle.Observer) Option {
	return func(v *Vtable) { v.observer = o }
}

// WithBus publishes a [racevent.CategoryInferenceEnd] or
// [racevent.CategoryError] event on bus around every Generate/GenerateStream
// call (spec §4.2), in addition to whatever [lifecycle.Observer] is
// configured.
func WithBus(bus *racevent.Bus) Option {
	return func(v *Vtable) { v.bus = bus }
}

// publish emits an event on v.bus, if one is configured. No-op otherwise.
func (v *Vtable) publish(h rachandle.Handle, op string, err error) {
	if v.bus == nil {
		return
	}
	payload := map[string]any{"capability": "llm", "operation": op, "handle": h.ID()}
	if err != nil {
		payload["error"] = err.Error()
		v.bus.Publish(racevent.CategoryError, racevent.SeverityError, payload)
		return
	}
	v.bus.Publish(racevent.CategoryInferenceEnd, racevent.SeverityInfo, payload)
}

// NewVtable constructs an LLM [Vtable] backed by registry. Passing the same
// registry to every capability's Vtable lets a single [rachandle.Handle]
// namespace span the whole runtime, as spec §4.1 requires.
func NewVtable(registry *rachandle.Registry, opts ...Option) *Vtable {
	v := &Vtable{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// backend is the boxed per-handle state: the wrapped Provider plus the
// mutable pieces (accumulated context, system prompt, cancel flag) that the
// vtable operations manage on the component's behalf, and the
// [lifecycle.Component] state machine (spec §4.7) guarding concurrent use
// and timing every call.
type backend struct {
	mu            sync.Mutex
	provider      Provider
	systemPrompt  string
	context       []types.Message
	cancelPending bool
	lc            *lifecycle.Component
}

// nowMs is the [lifecycle.Component] clock source for this package.
func nowMs() int64 { return time.Now().UnixMilli() }

// newBackend wraps provider in a [lifecycle.Component] already transitioned
// to ready — Create's contract is that provider is already connected, so
// there is no real load phase to run, only the state machine's bookkeeping.
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
// prior call's failure, since a single inference error shouldn't
// permanently strand an otherwise-healthy, already-connected provider.
func (b *backend) ensureReady(ctx context.Context) {
	if b.lc.State() == lifecycle.StateError {
		_ = b.lc.Load(ctx, "preloaded", nil)
	}
}

// GenerateOptions mirrors the subset of [CompletionRequest] the vtable
// surface exposes directly; Tools/SystemPrompt are threaded through
// InjectSystemPrompt/AppendContext instead so the vtable's generate
// signature matches spec §4.6 (`generate(prompt, options, out_result)`).
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Tools       []types.ToolDefinition
}

// GenerateResult is the vtable-level counterpart of [CompletionResponse].
type GenerateResult struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Info is returned by GetInfo.
type Info struct {
	Capabilities types.ModelCapabilities
	SystemPrompt string
	ContextTurns int
}

// Create instantiates backend state wrapping provider and registers it under
// a fresh handle. modelPath is recorded for GetInfo but the Provider itself
// is assumed to already be connected/loaded by the caller (the component
// lifecycle is responsible for calling the Provider Registry's factory
// before invoking Create; see internal/lifecycle).
func (v *Vtable) Create(provider Provider) rachandle.Handle {
	b := newBackend(provider, v.observer)
	return v.registry.Register(b, rachandle.TagLLMComponent)
}

// Destroy releases the backend bound to h. Idempotent.
func (v *Vtable) Destroy(h rachandle.Handle) error {
	return v.registry.Destroy(h, func(any) {})
}

// IsReady reports whether h is a live LLM backend handle.
func (v *Vtable) IsReady(h rachandle.Handle) bool {
	_, err := v.registry.Lookup(h, rachandle.TagLLMComponent)
	return err == nil
}

func (v *Vtable) lookup(h rachandle.Handle) (*backend, error) {
	obj, err := v.registry.Lookup(h, rachandle.TagLLMComponent)
	if err != nil {
		return nil, err
	}
	return obj.(*backend), nil
}

// Generate runs a non-streaming completion against prompt, prepending the
// injected system prompt and any accumulated context messages ahead of it.
// The call runs through the backend's [lifecycle.Component], so a second
// Generate/GenerateStream overlapping the first on the same handle is
// rejected with racerr.ComponentBusy rather than racing the provider, and
// the six benchmark timestamps (spec §4.7) are captured around it.
func (v *Vtable) Generate(ctx context.Context, h rachandle.Handle, prompt string, opts GenerateOptions) (GenerateResult, error) {
	b, err := v.lookup(h)
	if err != nil {
		return GenerateResult{}, err
	}
	b.ensureReady(ctx)
	b.mu.Lock()
	req := b.buildRequest(prompt, opts)
	b.mu.Unlock()

	if v.bus != nil {
		v.bus.Publish(racevent.CategoryInferenceStart, racevent.SeverityInfo, map[string]any{"capability": "llm", "operation": "generate", "handle": h.ID()})
	}
	var result GenerateResult
	callErr := b.lc.Call(ctx, nowMs, nil, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		resp, err := b.provider.Complete(ctx, req)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "llm", "generate", err.Error(), h.ID())
		}
		reportFirstToken()
		result = GenerateResult{Content: resp.Content, ToolCalls: resp.ToolCalls, Usage: resp.Usage}
		return nil
	})
	v.publish(h, "generate", callErr)
	if callErr != nil {
		return GenerateResult{}, callErr
	}
	return result, nil
}

// GenerateStream runs a streaming completion, invoking onToken for each text
// fragment and onComplete exactly once when the stream finishes
// successfully, or onError exactly once if it fails or observes a pending
// cancellation first. onToken/onComplete/onError are mutually exclusive
// terminal callbacks: at most one of onComplete/onError fires. Like
// Generate, the stream runs inside the backend's [lifecycle.Component] so
// concurrent calls on one handle are rejected rather than raced.
func (v *Vtable) GenerateStream(ctx context.Context, h rachandle.Handle, prompt string, opts GenerateOptions, onToken func(string), onComplete func(GenerateResult), onError func(error)) {
	b, err := v.lookup(h)
	if err != nil {
		onError(err)
		return
	}
	b.ensureReady(ctx)
	b.mu.Lock()
	req := b.buildRequest(prompt, opts)
	b.mu.Unlock()

	if v.bus != nil {
		v.bus.Publish(racevent.CategoryInferenceStart, racevent.SeverityInfo, map[string]any{"capability": "llm", "operation": "generate_stream", "handle": h.ID()})
	}
	var result GenerateResult
	var tokenCount int
	callErr := b.lc.Call(ctx, nowMs, func() int { return tokenCount }, func(ctx context.Context, _ lifecycle.Backend, reportFirstToken func()) error {
		chunks, err := b.provider.StreamCompletion(ctx, req)
		if err != nil {
			return racerr.New(racerr.InferenceFailed, "llm", "generate_stream", err.Error(), h.ID())
		}
		for chunk := range chunks {
			b.mu.Lock()
			cancelled := b.cancelPending
			b.mu.Unlock()
			if cancelled {
				drain(chunks)
				return racerr.New(racerr.Cancelled, "llm", "generate_stream", "cancelled", h.ID())
			}
			if chunk.Text != "" {
				result.Content += chunk.Text
				tokenCount++
				reportFirstToken()
				onToken(chunk.Text)
			}
			if len(chunk.ToolCalls) > 0 {
				result.ToolCalls = append(result.ToolCalls, chunk.ToolCalls...)
			}
			if chunk.FinishReason == "error" {
				drain(chunks)
				return racerr.New(racerr.InferenceFailed, "llm", "generate_stream", "provider reported a stream error", h.ID())
			}
		}
		return nil
	})
	v.publish(h, "generate_stream", callErr)
	if callErr != nil {
		onError(callErr)
		return
	}
	onComplete(result)
}

func drain(chunks <-chan Chunk) {
	for range chunks {
	}
}

func (b *backend) buildRequest(prompt string, opts GenerateOptions) CompletionRequest {
	messages := make([]types.Message, 0, len(b.context)+1)
	messages = append(messages, b.context...)
	messages = append(messages, types.Message{Role: "user", Content: prompt})
	return CompletionRequest{
		Messages:     messages,
		Tools:        opts.Tools,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
		SystemPrompt: b.systemPrompt,
	}
}

// AppendContext appends msg to the backend's accumulated conversation
// history, which every subsequent Generate/GenerateStream call includes.
func (v *Vtable) AppendContext(h rachandle.Handle, msg types.Message) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.context = append(b.context, msg)
	b.mu.Unlock()
	return nil
}

// ClearContext discards all accumulated conversation history.
func (v *Vtable) ClearContext(h rachandle.Handle) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.context = nil
	b.mu.Unlock()
	return nil
}

// InjectSystemPrompt replaces the system prompt used by subsequent calls.
func (v *Vtable) InjectSystemPrompt(h rachandle.Handle, prompt string) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.systemPrompt = prompt
	b.mu.Unlock()
	return nil
}

// ProbeConfidence asks the model to self-assess how well it can answer
// query given its current context, returning a scalar in [0, 1]. Used by the
// RAG pipeline's adaptive accumulation loop (spec §4.6, §4.11). The default
// implementation asks the provider for a short completion constrained to a
// bare numeric answer and parses it; providers with a native confidence
// signal can satisfy [ConfidenceProber] instead to bypass this round trip.
func (v *Vtable) ProbeConfidence(ctx context.Context, h rachandle.Handle, query string) (float64, error) {
	b, err := v.lookup(h)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	messages := make([]types.Message, 0, len(b.context)+1)
	messages = append(messages, b.context...)
	messages = append(messages, types.Message{Role: "user", Content: query})
	b.mu.Unlock()

	if prober, ok := b.provider.(ConfidenceProber); ok {
		return prober.ProbeConfidence(ctx, query)
	}

	resp, err := b.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: "Respond with only a number between 0.0 and 1.0 indicating how confidently you could answer the user's question using only the context already provided. Do not answer the question itself.",
		Messages:     messages,
		Temperature:  0,
		MaxTokens:    8,
	})
	if err != nil {
		return 0, racerr.New(racerr.InferenceFailed, "llm", "probe_confidence", err.Error(), h.ID())
	}
	return parseConfidence(resp.Content), nil
}

// ConfidenceProber is an optional interface a [Provider] can implement to
// supply probe_confidence natively instead of via a constrained completion.
type ConfidenceProber interface {
	ProbeConfidence(ctx context.Context, query string) (float64, error)
}

// Cancel sets the backend's cancel flag, observed by the next
// GenerateStream iteration. Idempotent, callable from any goroutine (spec
// §4.7 cancel semantics).
func (v *Vtable) Cancel(h rachandle.Handle) error {
	b, err := v.lookup(h)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.cancelPending = true
	b.mu.Unlock()
	return nil
}

// GetInfo reports static and current-state metadata for h.
func (v *Vtable) GetInfo(h rachandle.Handle) (Info, error) {
	b, err := v.lookup(h)
	if err != nil {
		return Info{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Info{
		Capabilities: b.provider.Capabilities(),
		SystemPrompt: b.systemPrompt,
		ContextTurns: len(b.context),
	}, nil
}

// parseConfidence extracts the first decimal number in s and clamps it to
// [0, 1]; models asked for a bare confidence score sometimes wrap it in a
// sentence despite instructions, so this scans rather than requiring an
// exact match.
func parseConfidence(s string) float64 {
	start, end := -1, -1
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			if start == -1 {
				start = i
			}
			end = i + 1
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0
	}
	f, err := strconv.ParseFloat(s[start:end], 64)
	if err != nil {
		return 0
	}
	return math.Min(1, math.Max(0, f))
}
