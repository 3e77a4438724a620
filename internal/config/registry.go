package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/runanywhere/racore/internal/providerreg"
	"github.com/runanywhere/racore/pkg/modelregistry"
	"github.com/runanywhere/racore/pkg/provider/diffusion"
	"github.com/runanywhere/racore/pkg/provider/embeddings"
	"github.com/runanywhere/racore/pkg/provider/llm"
	"github.com/runanywhere/racore/pkg/provider/stt"
	"github.com/runanywhere/racore/pkg/provider/tts"
	"github.com/runanywhere/racore/pkg/provider/vad"
	"github.com/runanywhere/racore/pkg/provider/vlm"
)

// ErrFrameworkNotRegistered is returned by Create* methods when no factory
// has been registered under the requested framework name.
var ErrFrameworkNotRegistered = errors.New("config: framework not registered")

// Registry maps framework names to their constructor functions for each
// capability, implementing the provider registry's backend-selection half
// of spec §4.5 — the caller either picks which framework name to ask for
// explicitly, or leaves [ComponentConfig.Framework] empty and lets the
// embedded [providerreg.Registry] rank every framework registered for that
// capability by priority and can_handle (spec §4.5, §8 scenario 6). Either
// way Registry turns the resolved name plus a [ComponentConfig] into a live
// backend ready for a capability vtable's Create call. Safe for concurrent
// use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ComponentConfig) (llm.Provider, error)
	stt        map[string]func(ComponentConfig) (stt.Provider, error)
	tts        map[string]func(ComponentConfig) (tts.Provider, error)
	vad        map[string]func(ComponentConfig) (vad.Engine, error)
	embeddings map[string]func(ComponentConfig) (embeddings.Provider, error)
	vlm        map[string]func(ComponentConfig) (vlm.Provider, error)
	diffusion  map[string]func(ComponentConfig) (diffusion.Provider, error)
	providers  *providerreg.Registry
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ComponentConfig) (llm.Provider, error)),
		stt:        make(map[string]func(ComponentConfig) (stt.Provider, error)),
		tts:        make(map[string]func(ComponentConfig) (tts.Provider, error)),
		vad:        make(map[string]func(ComponentConfig) (vad.Engine, error)),
		embeddings: make(map[string]func(ComponentConfig) (embeddings.Provider, error)),
		vlm:        make(map[string]func(ComponentConfig) (vlm.Provider, error)),
		diffusion:  make(map[string]func(ComponentConfig) (diffusion.Provider, error)),
		providers:  providerreg.New(),
	}
}

// RegisterLLM registers an LLM framework factory under name at priority 0
// with no can_handle predicate. Equivalent to RegisterLLMPriority(name, 0,
// nil, factory); use that directly to participate meaningfully in
// auto-selection (empty ComponentConfig.Framework).
func (r *Registry) RegisterLLM(name string, factory func(ComponentConfig) (llm.Provider, error)) {
	r.RegisterLLMPriority(name, 0, nil, factory)
}

// RegisterLLMPriority registers an LLM framework factory under name and
// records it in the provider registry (spec §4.5) so CreateLLM's
// auto-selection path can rank it by priority against every other
// registered LLM framework, optionally gated by canHandle.
func (r *Registry) RegisterLLMPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityLLM, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterSTT registers an STT framework factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ComponentConfig) (stt.Provider, error)) {
	r.RegisterSTTPriority(name, 0, nil, factory)
}

// RegisterSTTPriority is RegisterSTT's priority/can_handle counterpart; see
// RegisterLLMPriority.
func (r *Registry) RegisterSTTPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (stt.Provider, error)) {
	r.mu.Lock()
	r.stt[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilitySTT, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterTTS registers a TTS framework factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ComponentConfig) (tts.Provider, error)) {
	r.RegisterTTSPriority(name, 0, nil, factory)
}

// RegisterTTSPriority is RegisterTTS's priority/can_handle counterpart; see
// RegisterLLMPriority.
func (r *Registry) RegisterTTSPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (tts.Provider, error)) {
	r.mu.Lock()
	r.tts[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityTTS, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ComponentConfig) (vad.Engine, error)) {
	r.RegisterVADPriority(name, 0, nil, factory)
}

// RegisterVADPriority is RegisterVAD's priority/can_handle counterpart; see
// RegisterLLMPriority.
func (r *Registry) RegisterVADPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (vad.Engine, error)) {
	r.mu.Lock()
	r.vad[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityVAD, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterEmbeddings registers an embeddings framework factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ComponentConfig) (embeddings.Provider, error)) {
	r.RegisterEmbeddingsPriority(name, 0, nil, factory)
}

// RegisterEmbeddingsPriority is RegisterEmbeddings's priority/can_handle
// counterpart; see RegisterLLMPriority.
func (r *Registry) RegisterEmbeddingsPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (embeddings.Provider, error)) {
	r.mu.Lock()
	r.embeddings[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityEmbeddings, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterVLM registers a VLM framework factory under name.
func (r *Registry) RegisterVLM(name string, factory func(ComponentConfig) (vlm.Provider, error)) {
	r.RegisterVLMPriority(name, 0, nil, factory)
}

// RegisterVLMPriority is RegisterVLM's priority/can_handle counterpart; see
// RegisterLLMPriority.
func (r *Registry) RegisterVLMPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (vlm.Provider, error)) {
	r.mu.Lock()
	r.vlm[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityVLM, Priority: priority, CanHandle: canHandle,
	})
}

// RegisterDiffusion registers a diffusion framework factory under name.
func (r *Registry) RegisterDiffusion(name string, factory func(ComponentConfig) (diffusion.Provider, error)) {
	r.RegisterDiffusionPriority(name, 0, nil, factory)
}

// RegisterDiffusionPriority is RegisterDiffusion's priority/can_handle
// counterpart; see RegisterLLMPriority.
func (r *Registry) RegisterDiffusionPriority(name string, priority int, canHandle providerreg.CanHandleFunc, factory func(ComponentConfig) (diffusion.Provider, error)) {
	r.mu.Lock()
	r.diffusion[name] = factory
	r.mu.Unlock()
	r.providers.Register(providerreg.Entry{
		ProviderID: name, Capability: modelregistry.CapabilityDiffusion, Priority: priority, CanHandle: canHandle,
	})
}

// resolveFramework returns cfg.Framework unchanged when set, otherwise asks
// the provider registry's Select algorithm (spec §4.5) to rank every
// registered framework for capability and return the winning ProviderID.
func (r *Registry) resolveFramework(capability modelregistry.Capability, cfg ComponentConfig) (string, error) {
	if cfg.Framework != "" {
		return cfg.Framework, nil
	}
	entry, err := r.providers.Select(capability, "", modelregistry.Descriptor{ModelID: cfg.ModelPath, Capability: capability})
	if err != nil {
		return "", err
	}
	return entry.ProviderID, nil
}

// CreateLLM instantiates an LLM provider using the factory registered under
// cfg.Framework, or — when cfg.Framework is empty — the highest-priority
// registered LLM framework whose can_handle accepts cfg.ModelPath.
func (r *Registry) CreateLLM(cfg ComponentConfig) (llm.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityLLM, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateSTT instantiates an STT provider, resolving cfg.Framework the same
// way CreateLLM does.
func (r *Registry) CreateSTT(cfg ComponentConfig) (stt.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilitySTT, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.stt[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateTTS instantiates a TTS provider, resolving cfg.Framework the same
// way CreateLLM does.
func (r *Registry) CreateTTS(cfg ComponentConfig) (tts.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityTTS, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateVAD instantiates a VAD engine, resolving cfg.Framework the same way
// CreateLLM does.
func (r *Registry) CreateVAD(cfg ComponentConfig) (vad.Engine, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityVAD, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateEmbeddings instantiates an embeddings provider, resolving
// cfg.Framework the same way CreateLLM does.
func (r *Registry) CreateEmbeddings(cfg ComponentConfig) (embeddings.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityEmbeddings, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.embeddings[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateVLM instantiates a VLM provider, resolving cfg.Framework the same
// way CreateLLM does.
func (r *Registry) CreateVLM(cfg ComponentConfig) (vlm.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityVLM, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.vlm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vlm/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}

// CreateDiffusion instantiates a diffusion provider, resolving
// cfg.Framework the same way CreateLLM does.
func (r *Registry) CreateDiffusion(cfg ComponentConfig) (diffusion.Provider, error) {
	name, err := r.resolveFramework(modelregistry.CapabilityDiffusion, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.diffusion[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diffusion/%q", ErrFrameworkNotRegistered, name)
	}
	return factory(cfg)
}
