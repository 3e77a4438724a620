package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/runanywhere/racore/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidFrameworkNames lists known framework names per capability.
// Used by [Validate] to warn about unrecognised framework names.
var ValidFrameworkNames = map[string][]string{
	"llm":        {"llamacpp", "openai", "anthropic", "ollama", "gemini"},
	"stt":        {"whispercpp", "deepgram"},
	"tts":        {"piper", "elevenlabs"},
	"vad":        {"silero"},
	"embeddings": {"llamacpp", "openai", "ollama"},
	"vlm":        {"llamacpp", "onnx"},
	"diffusion":  {"onnx", "coreml"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenPort < 0 || cfg.Server.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.ListenPort))
	}

	validateFrameworkName("llm", cfg.Components.LLM.Framework)
	validateFrameworkName("stt", cfg.Components.STT.Framework)
	validateFrameworkName("tts", cfg.Components.TTS.Framework)
	validateFrameworkName("vad", cfg.Components.VAD.Framework)
	validateFrameworkName("embeddings", cfg.Components.Embeddings.Framework)
	validateFrameworkName("vlm", cfg.Components.VLM.Framework)
	validateFrameworkName("diffusion", cfg.Components.Diffusion.Framework)

	// Embeddings ↔ memory dimensions
	if cfg.Components.Embeddings.ModelPath != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("components.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// RAG ↔ embeddings/LLM availability
	if (cfg.RAG.ConfidenceThreshold != 0 || cfg.RAG.DenseTopParents != 0) && cfg.Components.Embeddings.ModelPath == "" {
		slog.Warn("rag is configured but components.embeddings is not; the RAG pipeline requires an embeddings component")
	}
	if cfg.RAG.ConfidenceThreshold < 0 || cfg.RAG.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("rag.confidence_threshold %.2f is out of range [0, 1]", cfg.RAG.ConfidenceThreshold))
	}
	if cfg.RAG.FusionWeight < 0 || cfg.RAG.FusionWeight > 1 {
		errs = append(errs, fmt.Errorf("rag.fusion_weight %.2f is out of range [0, 1]", cfg.RAG.FusionWeight))
	}

	// Voice Agent ↔ component availability
	if cfg.VoiceAgent.MinSilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("voice_agent.min_silence_duration_ms %d must not be negative", cfg.VoiceAgent.MinSilenceDurationMs))
	}
	if cfg.VoiceAgent.MinSilenceDurationMs > 0 {
		for _, missing := range missingVoiceAgentComponents(cfg) {
			slog.Warn("voice_agent is configured but a required component is missing", "component", missing)
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// missingVoiceAgentComponents returns the names of capabilities the Voice
// Agent Pipeline requires (VAD, STT, LLM, TTS) that have no model path
// configured.
func missingVoiceAgentComponents(cfg *Config) []string {
	var missing []string
	if cfg.Components.VAD.ModelPath == "" {
		missing = append(missing, "vad")
	}
	if cfg.Components.STT.ModelPath == "" {
		missing = append(missing, "stt")
	}
	if cfg.Components.LLM.ModelPath == "" {
		missing = append(missing, "llm")
	}
	if cfg.Components.TTS.ModelPath == "" {
		missing = append(missing, "tts")
	}
	return missing
}

// validateFrameworkName logs a warning if name is non-empty and not found in
// the [ValidFrameworkNames] list for the given capability.
func validateFrameworkName(capability, name string) {
	if name == "" {
		return
	}
	known, ok := ValidFrameworkNames[capability]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown framework name — may be a typo or third-party framework",
		"capability", capability,
		"name", name,
		"known", known,
	)
}
