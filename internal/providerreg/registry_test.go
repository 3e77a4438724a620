package providerreg

import (
	"testing"

	"github.com/runanywhere/racore/pkg/modelregistry"
	"github.com/runanywhere/racore/pkg/racerr"
)

func TestSelectByPriority(t *testing.T) {
	r := New()
	r.Register(Entry{ProviderID: "low", Capability: modelregistry.CapabilityLLM, Framework: modelregistry.FrameworkLlamaCPP, Priority: 1})
	r.Register(Entry{ProviderID: "high", Capability: modelregistry.CapabilityLLM, Framework: modelregistry.FrameworkLlamaCPP, Priority: 10})

	e, err := r.Select(modelregistry.CapabilityLLM, "", modelregistry.Descriptor{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if e.ProviderID != "high" {
		t.Fatalf("expected high priority provider, got %s", e.ProviderID)
	}
}

func TestSelectFrameworkFilter(t *testing.T) {
	r := New()
	r.Register(Entry{ProviderID: "gguf", Capability: modelregistry.CapabilityLLM, Framework: modelregistry.FrameworkLlamaCPP, Priority: 5})
	r.Register(Entry{ProviderID: "onnx", Capability: modelregistry.CapabilityLLM, Framework: modelregistry.FrameworkONNX, Priority: 5})

	e, err := r.Select(modelregistry.CapabilityLLM, modelregistry.FrameworkONNX, modelregistry.Descriptor{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if e.ProviderID != "onnx" {
		t.Fatalf("expected onnx provider, got %s", e.ProviderID)
	}
}

func TestSelectSkipsCantHandle(t *testing.T) {
	r := New()
	r.Register(Entry{
		ProviderID: "picky", Capability: modelregistry.CapabilityLLM, Priority: 10,
		CanHandle: func(d modelregistry.Descriptor) bool { return false },
	})
	r.Register(Entry{ProviderID: "general", Capability: modelregistry.CapabilityLLM, Priority: 1})

	e, err := r.Select(modelregistry.CapabilityLLM, "", modelregistry.Descriptor{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if e.ProviderID != "general" {
		t.Fatalf("expected general provider, got %s", e.ProviderID)
	}
}

func TestSelectNoneMatchFails(t *testing.T) {
	r := New()
	if _, err := r.Select(modelregistry.CapabilityLLM, "", modelregistry.Descriptor{}); !racerr.Is(err, racerr.ProviderNotFound) {
		t.Fatalf("expected ProviderNotFound, got %v", err)
	}
}

func TestRegisterIdempotentByID(t *testing.T) {
	r := New()
	r.Register(Entry{ProviderID: "p", Capability: modelregistry.CapabilityLLM, Priority: 1})
	r.Register(Entry{ProviderID: "p", Capability: modelregistry.CapabilityLLM, Priority: 99})

	if len(r.List(modelregistry.CapabilityLLM)) != 1 {
		t.Fatalf("expected single entry after re-registration")
	}
	e, _ := r.Select(modelregistry.CapabilityLLM, "", modelregistry.Descriptor{})
	if e.Priority != 99 {
		t.Fatalf("expected latest registration to win, got priority %d", e.Priority)
	}
}
