package config_test

import (
	"testing"

	"github.com/runanywhere/racore/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "llamacpp", ModelPath: "/models/a.gguf"},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if len(d.ComponentsChanged) != 0 {
		t.Errorf("expected 0 component changes, got %d", len(d.ComponentsChanged))
	}
	if d.RAGChanged {
		t.Error("expected RAGChanged=false for identical configs")
	}
	if d.VoiceAgentChanged {
		t.Error("expected VoiceAgentChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ComponentFrameworkChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "llamacpp", ModelPath: "/models/a.gguf"},
		},
	}
	newCfg := &config.Config{
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "ollama", ModelPath: "/models/a.gguf"},
		},
	}

	d := config.Diff(old, newCfg)
	if len(d.ComponentsChanged) != 1 {
		t.Fatalf("expected 1 component change, got %d", len(d.ComponentsChanged))
	}
	cd := d.ComponentsChanged[0]
	if cd.Capability != "llm" {
		t.Errorf("expected capability=llm, got %q", cd.Capability)
	}
	if !cd.FrameworkChanged {
		t.Error("expected FrameworkChanged=true")
	}
	if cd.ModelPathChanged {
		t.Error("expected ModelPathChanged=false")
	}
}

func TestDiff_ComponentModelPathChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Components: config.ComponentsConfig{
			TTS: config.ComponentConfig{Framework: "piper", ModelPath: "/models/voice-a.onnx"},
		},
	}
	newCfg := &config.Config{
		Components: config.ComponentsConfig{
			TTS: config.ComponentConfig{Framework: "piper", ModelPath: "/models/voice-b.onnx"},
		},
	}

	d := config.Diff(old, newCfg)
	found := false
	for _, cd := range d.ComponentsChanged {
		if cd.Capability == "tts" && cd.ModelPathChanged {
			found = true
		}
	}
	if !found {
		t.Error("expected tts ModelPathChanged=true")
	}
}

func TestDiff_OptionsChangeIsNotReported(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "llamacpp", Options: map[string]any{"temperature": 0.7}},
		},
	}
	newCfg := &config.Config{
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "llamacpp", Options: map[string]any{"temperature": 0.9}},
		},
	}

	d := config.Diff(old, newCfg)
	if len(d.ComponentsChanged) != 0 {
		t.Errorf("expected Options changes to be excluded from the diff, got %d changes", len(d.ComponentsChanged))
	}
}

func TestDiff_RAGChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{RAG: config.RAGConfig{ChunkSize: 512}}
	newCfg := &config.Config{RAG: config.RAGConfig{ChunkSize: 1024}}

	d := config.Diff(old, newCfg)
	if !d.RAGChanged {
		t.Error("expected RAGChanged=true")
	}
}

func TestDiff_VoiceAgentChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{VoiceAgent: config.VoiceAgentConfig{MinSilenceDurationMs: 500}}
	newCfg := &config.Config{VoiceAgent: config.VoiceAgentConfig{MinSilenceDurationMs: 800}}

	d := config.Diff(old, newCfg)
	if !d.VoiceAgentChanged {
		t.Error("expected VoiceAgentChanged=true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "llamacpp"},
			STT: config.ComponentConfig{Framework: "whispercpp"},
		},
	}
	newCfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Components: config.ComponentsConfig{
			LLM: config.ComponentConfig{Framework: "openai"},
			STT: config.ComponentConfig{Framework: "whispercpp"},
		},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if len(d.ComponentsChanged) != 1 {
		t.Fatalf("expected 1 component change, got %d", len(d.ComponentsChanged))
	}
	if d.ComponentsChanged[0].Capability != "llm" {
		t.Errorf("expected llm to be the changed capability, got %q", d.ComponentsChanged[0].Capability)
	}
}
