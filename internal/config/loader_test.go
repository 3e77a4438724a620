package config_test

import (
	"strings"
	"testing"

	"github.com/runanywhere/racore/internal/config"
)

func TestValidate_UnknownFrameworkWarnsNotErrors(t *testing.T) {
	t.Parallel()
	yaml := `
components:
  llm:
    framework: some-experimental-backend
    model_path: /models/model.bin
`
	// Unknown framework names only produce a warning log, not a validation error.
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for unknown framework name: %v", err)
	}
}

func TestValidate_RAGFusionWeightOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
rag:
  fusion_weight: -0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range fusion_weight, got nil")
	}
	if !strings.Contains(err.Error(), "fusion_weight") {
		t.Errorf("error should mention fusion_weight, got: %v", err)
	}
}

func TestValidate_RAGWithoutEmbeddingsIsValidButWarns(t *testing.T) {
	t.Parallel()
	yaml := `
rag:
  confidence_threshold: 0.5
  dense_top_parents: 5
`
	// Missing embeddings is a configuration smell, not a hard error: the RAG
	// pipeline simply has nothing to embed queries with.
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_VoiceAgentWithoutComponentsIsValidButWarns(t *testing.T) {
	t.Parallel()
	yaml := `
voice_agent:
  min_silence_duration_ms: 500
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_FullyConfiguredIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  host: "127.0.0.1"
  port: 8443
  log_level: debug
components:
  llm:
    framework: llamacpp
    model_path: /models/llama.gguf
  stt:
    framework: whispercpp
    model_path: /models/whisper.bin
  tts:
    framework: piper
    model_path: /models/piper.onnx
  vad:
    framework: silero
    model_path: /models/silero.onnx
memory:
  postgres_dsn: "postgres://localhost/test"
  embedding_dimensions: 768
voice_agent:
  min_silence_duration_ms: 400
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  port: -1
  log_level: loud
rag:
  confidence_threshold: 2.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "port") {
		t.Errorf("error should mention port, got: %v", err)
	}
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "confidence_threshold") {
		t.Errorf("error should mention confidence_threshold, got: %v", err)
	}
}

func TestValidFrameworkNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidFrameworkNames) == 0 {
		t.Fatal("ValidFrameworkNames should not be empty")
	}
	llmNames := config.ValidFrameworkNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal(`ValidFrameworkNames["llm"] should not be empty`)
	}
	found := false
	for _, n := range llmNames {
		if n == "llamacpp" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidFrameworkNames["llm"] should contain "llamacpp"`)
	}
}
