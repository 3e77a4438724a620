package modelregistry

import (
	"context"
	"reflect"
	"testing"

	"github.com/runanywhere/racore/pkg/racerr"
)

func TestPutGetRemove(t *testing.T) {
	r := New()
	d := Descriptor{ModelID: "llama-7b", Capability: CapabilityLLM, Framework: FrameworkLlamaCPP}
	r.Put(d)

	got, err := r.Get("llama-7b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("got %+v, want %+v", got, d)
	}

	r.Remove("llama-7b")
	if _, err := r.Get("llama-7b"); !racerr.Is(err, racerr.ModelNotFound) {
		t.Fatalf("expected ModelNotFound after remove, got %v", err)
	}
}

func TestListByCapabilityAndFramework(t *testing.T) {
	r := New()
	r.Put(Descriptor{ModelID: "a", Capability: CapabilityLLM, Framework: FrameworkLlamaCPP})
	r.Put(Descriptor{ModelID: "b", Capability: CapabilityLLM, Framework: FrameworkONNX})
	r.Put(Descriptor{ModelID: "c", Capability: CapabilitySTT, Framework: FrameworkWhisperCPP})

	llms := r.ListByCapability(CapabilityLLM)
	if len(llms) != 2 {
		t.Fatalf("expected 2 LLM descriptors, got %d", len(llms))
	}

	gguf := r.ListByFramework(FrameworkLlamaCPP)
	if len(gguf) != 1 || gguf[0].ModelID != "a" {
		t.Fatalf("unexpected llamacpp list: %+v", gguf)
	}
}

func TestPutOverwriteMovesIndices(t *testing.T) {
	r := New()
	r.Put(Descriptor{ModelID: "m", Capability: CapabilityLLM, Framework: FrameworkLlamaCPP})
	r.Put(Descriptor{ModelID: "m", Capability: CapabilitySTT, Framework: FrameworkWhisperCPP})

	if len(r.ListByCapability(CapabilityLLM)) != 0 {
		t.Fatalf("expected old capability index cleared")
	}
	stt := r.ListByCapability(CapabilitySTT)
	if len(stt) != 1 || stt[0].ModelID != "m" {
		t.Fatalf("unexpected stt list: %+v", stt)
	}
}

func TestDiscoverDownloaded(t *testing.T) {
	r := New()
	lister := func(ctx context.Context, dir string) ([]string, error) {
		return []string{"model-a.gguf", "model-b.onnx", "readme.txt"}, nil
	}

	found, err := r.DiscoverDownloaded(context.Background(), "/models", lister)
	if err != nil {
		t.Fatalf("DiscoverDownloaded: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 recognized files, got %d: %+v", len(found), found)
	}

	if _, err := r.Get("model-a"); err != nil {
		t.Fatalf("expected model-a registered: %v", err)
	}
}
