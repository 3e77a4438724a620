package rachandle

import (
	"sync"
	"testing"

	"github.com/runanywhere/racore/pkg/racerr"
)

func TestRegisterLookupDestroy(t *testing.T) {
	r := NewRegistry()
	h := r.Register("payload", TagLLMComponent)

	obj, err := r.Lookup(h, TagLLMComponent)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if obj.(string) != "payload" {
		t.Fatalf("got %v", obj)
	}

	if err := r.Destroy(h, nil); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if _, err := r.Lookup(h, TagLLMComponent); !racerr.Is(err, racerr.InvalidHandle) {
		t.Fatalf("expected InvalidHandle after destroy, got %v", err)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	r := NewRegistry()
	var cleanups int
	h := r.Register(42, TagSTTComponent)

	cleanup := func(any) { cleanups++ }
	if err := r.Destroy(h, cleanup); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	if err := r.Destroy(h, cleanup); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if cleanups != 1 {
		t.Fatalf("expected cleanup exactly once, got %d", cleanups)
	}
}

func TestDestroyNeverReissued(t *testing.T) {
	r := NewRegistry()
	h := r.Register(1, TagTTSComponent)
	_ = r.Destroy(h, nil)

	h2 := r.Register(2, TagTTSComponent)
	if h2.ID() == h.ID() {
		t.Fatalf("handle ID reused: %d", h2.ID())
	}
}

func TestLookupTagMismatch(t *testing.T) {
	r := NewRegistry()
	h := r.Register("x", TagLLMComponent)
	if _, err := r.Lookup(h, TagSTTComponent); !racerr.Is(err, racerr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument on tag mismatch, got %v", err)
	}
}

func TestLookupZeroHandle(t *testing.T) {
	r := NewRegistry()
	var zero Handle
	if _, err := r.Lookup(zero, TagLLMComponent); !racerr.Is(err, racerr.InvalidHandle) {
		t.Fatalf("expected InvalidHandle for zero handle, got %v", err)
	}
}

func TestConcurrentRegisterDestroy(t *testing.T) {
	r := NewRegistry()
	const n = 200
	handles := make([]Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = r.Register(i, TagMemoryIndex)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		h := handles[i]
		go func() {
			defer wg.Done()
			_, _ = r.Lookup(h, TagMemoryIndex)
		}()
		go func() {
			defer wg.Done()
			_ = r.Destroy(h, nil)
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected all handles destroyed, got %d remaining", r.Len())
	}
}
