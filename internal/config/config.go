// Package config provides the configuration schema, loader, and provider
// registry for the on-device inference runtime core.
package config

import "github.com/runanywhere/racore/internal/mcp"

// Config is the root configuration structure for the runtime core.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Components ComponentsConfig `yaml:"components"`
	RAG        RAGConfig        `yaml:"rag"`
	VoiceAgent VoiceAgentConfig `yaml:"voice_agent"`
	Memory     MemoryConfig     `yaml:"memory"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// LogLevel is the verbosity of the default logger (ambient stack).
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ServerConfig holds the settings corresponding to the CLI surface of spec
// §6: --model, --host, --port, --threads, --context, --gpu-layers, --cors.
type ServerConfig struct {
	// ListenHost and ListenPort are the network address the server binds to.
	ListenHost string `yaml:"host"`
	ListenPort int    `yaml:"port"`

	// ModelPath is the default model loaded at startup, overridden per
	// component by ComponentConfig.ModelPath when set.
	ModelPath string `yaml:"model"`

	// Threads caps CPU inference parallelism. Zero means the backend default.
	Threads int `yaml:"threads"`

	// ContextSize is the token context window requested from the backend.
	// Zero means the backend/model default.
	ContextSize int `yaml:"context"`

	// GPULayers is the number of model layers offloaded to GPU. Zero means
	// CPU-only.
	GPULayers int `yaml:"gpu_layers"`

	// CORS enables permissive cross-origin headers on the HTTP frontend (out
	// of this core's scope beyond the flag itself — see spec.md's Non-goals).
	CORS bool `yaml:"cors"`

	// LogLevel controls verbosity of the default logger.
	LogLevel LogLevel `yaml:"log_level"`
}

// ComponentsConfig declares which backend to use for each capability
// service (spec §4.5 Provider Registry, §4.6 capability vtables). Each
// field selects a model path and framework hint resolved by the provider
// registry's selection algorithm.
type ComponentsConfig struct {
	LLM        ComponentConfig `yaml:"llm"`
	STT        ComponentConfig `yaml:"stt"`
	TTS        ComponentConfig `yaml:"tts"`
	VAD        ComponentConfig `yaml:"vad"`
	Embeddings ComponentConfig `yaml:"embeddings"`
	VLM        ComponentConfig `yaml:"vlm"`
	Diffusion  ComponentConfig `yaml:"diffusion"`
}

// ComponentConfig is the common configuration block shared by every
// capability: which framework backend to load and where its model lives,
// mirroring spec §4.4's (model_id_or_path, framework_hint) component
// creation signature.
type ComponentConfig struct {
	// Framework selects the registered backend implementation (e.g.,
	// "llamacpp", "whispercpp", "onnx"). Empty lets the provider registry's
	// selection algorithm choose: the highest-priority framework registered
	// for the capability whose can-handle check accepts ModelPath.
	Framework string `yaml:"framework"`

	// ModelPath is a local file path or a provider-specific model
	// identifier (e.g., an API model name for a remote LLM framework).
	ModelPath string `yaml:"model_path"`

	// Options holds framework-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// RAGConfig configures the RAG Pipeline's retrieval and adaptive
// accumulation behavior (spec §4.11). Zero values fall back to
// rag.Config.withDefaults' defaults.
type RAGConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	DenseTopParents     int     `yaml:"dense_top_parents"`
	BM25TopChunks       int     `yaml:"bm25_top_chunks"`
	FusionWeight        float64 `yaml:"fusion_weight"`
	TopSentences        int     `yaml:"top_sentences"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	StrictFiltering     bool    `yaml:"strict_filtering"`
}

// VoiceAgentConfig configures turn detection and per-stage call parameters
// for the Voice Agent Pipeline (spec §4.12).
type VoiceAgentConfig struct {
	MinSilenceDurationMs int    `yaml:"min_silence_duration_ms"`
	FrameSizeMs          int    `yaml:"frame_size_ms"`
	SampleRate           int    `yaml:"sample_rate"`
	VoiceID              string `yaml:"voice_id"`
}

// MemoryConfig holds settings for the pgvector-backed Memory Index (spec
// §4.9).
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// memory index backend. Empty selects the in-process flat/HNSW index
	// instead.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension used for the index.
	// Must match the model configured in Components.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// MCPConfig holds the list of Model Context Protocol servers the runtime
// core's tool-calling surface connects to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is stdio. Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is streamable-http.
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is stdio. May be nil.
	Env map[string]string `yaml:"env"`
}
