package bm25

import (
	"context"
	"reflect"
	"testing"
)

func TestTokenizeLowercasesAndStripsPunctuation(t *testing.T) {
	got := Tokenize("Hello, World! It's a test.")
	want := []string{"hello", "world", "it", "s", "a", "test"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSearchRanksDocumentsContainingQueryTerms(t *testing.T) {
	ctx := context.Background()
	idx := New()
	idx.Add(ctx, "doc1", "the quick brown fox jumps over the lazy dog")
	idx.Add(ctx, "doc2", "the lazy dog sleeps all day")
	idx.Add(ctx, "doc3", "completely unrelated content about spaceships")

	results, err := idx.Search(ctx, "lazy dog", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.DocID == "doc3" {
			t.Fatalf("doc3 should not match query terms, got %+v", results)
		}
	}
}

func TestSearchPrefersDocumentWithHigherTermFrequency(t *testing.T) {
	ctx := context.Background()
	idx := New()
	idx.Add(ctx, "sparse", "dog runs")
	idx.Add(ctx, "dense", "dog dog dog dog runs")

	results, err := idx.Search(ctx, "dog", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].DocID != "dense" {
		t.Fatalf("expected dense first, got %+v", results)
	}
}

func TestRemoveDropsDocumentFromResults(t *testing.T) {
	ctx := context.Background()
	idx := New()
	idx.Add(ctx, "a", "shared term unique_a")
	idx.Add(ctx, "b", "shared term unique_b")

	if err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after remove, got %d", idx.Size())
	}

	results, err := idx.Search(ctx, "shared", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.DocID == "a" {
			t.Fatalf("removed document should not appear in results")
		}
	}
}

func TestSearchEmptyQueryReturnsNoResults(t *testing.T) {
	ctx := context.Background()
	idx := New()
	idx.Add(ctx, "a", "some content")
	results, err := idx.Search(ctx, "   ", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for empty query, got %+v", results)
	}
}

func TestReAddReplacesPriorPostings(t *testing.T) {
	ctx := context.Background()
	idx := New()
	idx.Add(ctx, "a", "alpha beta")
	idx.Add(ctx, "a", "gamma delta")

	results, err := idx.Search(ctx, "alpha", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected re-add to replace old postings, got %+v", results)
	}

	results, err = idx.Search(ctx, "gamma", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocID != "a" {
		t.Fatalf("expected gamma to match replaced content, got %+v", results)
	}
}
