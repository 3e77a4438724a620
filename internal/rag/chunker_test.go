package rag

import (
	"strings"
	"testing"
)

func TestSplitSmallTextIsSingleChunk(t *testing.T) {
	c := NewChunker(ChunkerConfig{ChunkSize: 256})
	chunks := c.Split("a short paragraph.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Start != 0 || chunks[0].End != len("a short paragraph.") {
		t.Fatalf("unexpected span: %+v", chunks[0])
	}
}

func TestSplitRespectsParagraphBoundariesWhenOversized(t *testing.T) {
	para := strings.Repeat("word ", 40)
	text := para + "\n\n" + para + "\n\n" + para
	c := NewChunker(ChunkerConfig{ChunkSize: 60, ChunkOverlap: 5})
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for oversized text, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if text[chunk.Start:chunk.End] != chunk.Text {
			t.Fatalf("chunk text does not match its reported span: %+v", chunk)
		}
	}
}

func TestSplitChunksTileOriginalTextWithoutGaps(t *testing.T) {
	text := strings.Repeat("sentence one. sentence two. sentence three. ", 20)
	c := NewChunker(ChunkerConfig{ChunkSize: 20, ChunkOverlap: 2})
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// every chunk boundary must land inside [0, len(text)]
	for _, chunk := range chunks {
		if chunk.Start < 0 || chunk.End > len(text) || chunk.Start >= chunk.End {
			t.Fatalf("invalid span: %+v", chunk)
		}
	}
	// the final chunk must reach the end of the text
	last := chunks[len(chunks)-1]
	if last.End != len(text) {
		t.Fatalf("last chunk does not reach end of text: %+v (len=%d)", last, len(text))
	}
}

func TestSplitEmptyTextReturnsNoChunks(t *testing.T) {
	c := NewChunker(ChunkerConfig{ChunkSize: 100})
	if chunks := c.Split("   "); chunks != nil {
		t.Fatalf("expected nil for blank text, got %+v", chunks)
	}
}

func TestSplitFallsBackToRuneSplittingWithNoSeparators(t *testing.T) {
	text := strings.Repeat("x", 500)
	c := NewChunker(ChunkerConfig{ChunkSize: 10, ChunkOverlap: 1})
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for separator-less text, got %d", len(chunks))
	}
}

func TestSplitIntoSentences(t *testing.T) {
	got := SplitIntoSentences("The sky is blue. Is it always blue? Not at night!")
	want := []string{"The sky is blue.", "Is it always blue?", "Not at night!"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitIntoSentencesHandlesNoTerminalPunctuation(t *testing.T) {
	got := SplitIntoSentences("just one fragment without a period")
	if len(got) != 1 || got[0] != "just one fragment without a period" {
		t.Fatalf("unexpected result: %v", got)
	}
}
