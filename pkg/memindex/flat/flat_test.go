package flat

import (
	"context"
	"testing"

	"github.com/runanywhere/racore/pkg/memindex"
)

func TestAddSearchDeleteByID(t *testing.T) {
	ctx := context.Background()
	idx := New(2, memindex.MetricCosine)

	if err := idx.Add(ctx, memindex.Entry{ID: "a", Vector: []float32{1, 0}, Text: "a"}); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := idx.Add(ctx, memindex.Entry{ID: "b", Vector: []float32{0, 1}, Text: "b"}); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	results, err := idx.Search(ctx, []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected a as the closest match, got %+v", results)
	}

	if err := idx.DeleteByID(ctx, "a"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	size, _ := idx.Size(ctx)
	if size != 1 {
		t.Fatalf("expected size 1 after delete, got %d", size)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx := New(3, memindex.MetricL2)
	if _, err := idx.Search(context.Background(), []float32{1, 2}, 1, nil); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestSearchOrdersL2SmallestDistanceFirst(t *testing.T) {
	ctx := context.Background()
	idx := New(1, memindex.MetricL2)
	idx.Add(ctx, memindex.Entry{ID: "near", Vector: []float32{1}})
	idx.Add(ctx, memindex.Entry{ID: "far", Vector: []float32{10}})

	results, err := idx.Search(ctx, []float32{0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].ID != "near" || results[1].ID != "far" {
		t.Fatalf("expected near before far, got %+v", results)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected normalized score to prefer the closer point, got %+v", results)
	}
}

func TestSearchAppliesFilter(t *testing.T) {
	ctx := context.Background()
	idx := New(1, memindex.MetricInnerProduct)
	idx.Add(ctx, memindex.Entry{ID: "keep", Vector: []float32{1}, Metadata: "tag=keep"})
	idx.Add(ctx, memindex.Entry{ID: "skip", Vector: []float32{1}, Metadata: "tag=skip"})

	results, err := idx.Search(ctx, []float32{1}, 5, &memindex.Filter{
		Match: func(metadata string) bool { return metadata == "tag=keep" },
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "keep" {
		t.Fatalf("expected only the filtered-in entry, got %+v", results)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := New(2, memindex.MetricCosine)
	idx.Add(ctx, memindex.Entry{ID: "a", Vector: []float32{1, 0}, Metadata: "m", Text: "t"})

	snap, err := idx.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New(0, memindex.MetricL2)
	if err := restored.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	size, _ := restored.Size(ctx)
	if size != 1 {
		t.Fatalf("expected 1 entry after restore, got %d", size)
	}
	results, err := restored.Search(ctx, []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Search after restore: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" || results[0].Metadata != "m" {
		t.Fatalf("unexpected restored entry: %+v", results)
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	ctx := context.Background()
	idx := New(1, memindex.MetricL2)
	idx.Add(ctx, memindex.Entry{ID: "a", Vector: []float32{1}})
	if err := idx.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	size, _ := idx.Size(ctx)
	if size != 0 {
		t.Fatalf("expected 0 after clear, got %d", size)
	}
}
