package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// charsPerToken is the approximate characters-per-token ratio used to turn a
// token budget into a byte-length budget, per spec §4.11.
const charsPerToken = 4

// defaultSeparators is the recursive splitter's separator hierarchy, tried
// widest-to-narrowest until one actually divides the text.
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// TextChunk is one piece of a chunked document, with its byte offsets into
// the original text so callers can trace a retrieved chunk back to its
// source span.
type TextChunk struct {
	Text  string
	Start int
	End   int
	Index int
}

// ChunkerConfig controls [Chunker]'s token budget. Tokens are estimated via
// [charsPerToken], not counted by a real tokenizer, since the RAG pipeline
// has no dependency on the embeddings/LLM provider's specific vocabulary.
type ChunkerConfig struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int
	// ChunkOverlap is how many trailing tokens of a chunk are repeated at
	// the start of the next chunk, for continuity across chunk boundaries.
	ChunkOverlap int
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 256
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 8
	}
	return c
}

// Chunker splits documents using a recursive separator hierarchy: it tries
// to split on the widest separator first ("\n\n"), falling back to narrower
// ones only for pieces that are still over budget, down to splitting by rune
// as a last resort.
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker constructs a [Chunker]. A non-positive ChunkSize takes the
// default of 256; a negative ChunkOverlap, or one not smaller than
// ChunkSize, takes ChunkSize/8. A zero ChunkOverlap is kept as zero.
func NewChunker(cfg ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

type span struct{ start, end int }

func (c *Chunker) approxTokens(byteLen int) int {
	return byteLen / charsPerToken
}

// Split chunks text into overlapping [TextChunk]s within the configured
// token budget.
func (c *Chunker) Split(text string) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := c.splitRange(text, 0, len(text), defaultSeparators)
	chunks := make([]TextChunk, len(spans))
	for i, s := range spans {
		chunks[i] = TextChunk{Text: text[s.start:s.end], Start: s.start, End: s.end, Index: i}
	}
	return chunks
}

// splitRange recursively partitions text[start:end] into spans no larger
// than the token budget, using seps[0] first and falling back to seps[1:]
// only for sub-ranges that are still oversized. Every separator found is
// kept attached to the end of the preceding part (mirroring how a human
// re-reading the reassembled chunks would expect punctuation to land),
// so the returned spans tile text[start:end] exactly, with no gaps.
func (c *Chunker) splitRange(text string, start, end int, seps []string) []span {
	if c.approxTokens(end-start) <= c.cfg.ChunkSize {
		return []span{{start, end}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return c.splitByRune(text, start, end)
	}

	sep := seps[0]
	rest := seps[1:]

	var partEnds []int
	searchFrom := start
	for {
		idx := strings.Index(text[searchFrom:end], sep)
		if idx < 0 {
			break
		}
		absEnd := searchFrom + idx + len(sep)
		partEnds = append(partEnds, absEnd)
		searchFrom = absEnd
	}
	if len(partEnds) == 0 || partEnds[len(partEnds)-1] != end {
		partEnds = append(partEnds, end)
	}
	if len(partEnds) == 1 {
		// sep never occurs in this range; try the next separator down.
		return c.splitRange(text, start, end, rest)
	}

	var chunks []span
	curStart := start
	partStart := start
	overlapChars := c.cfg.ChunkOverlap * charsPerToken

	for _, partEnd := range partEnds {
		if curStart < partStart && c.approxTokens(partEnd-curStart) > c.cfg.ChunkSize {
			chunks = append(chunks, span{curStart, partStart})
			newStart := partStart - overlapChars
			if newStart < chunks[len(chunks)-1].start {
				newStart = chunks[len(chunks)-1].start
			}
			curStart = newStart
		}

		if c.approxTokens(partEnd-partStart) > c.cfg.ChunkSize {
			if curStart < partStart {
				chunks = append(chunks, span{curStart, partStart})
			}
			chunks = append(chunks, c.splitRange(text, partStart, partEnd, rest)...)
			curStart = partEnd
		}

		partStart = partEnd
	}
	if curStart < end {
		chunks = append(chunks, span{curStart, end})
	}
	return chunks
}

// splitByRune is the hierarchy's last resort: it cuts text[start:end] at
// rune boundaries every ChunkSize tokens' worth of bytes, since no
// separator in the hierarchy divided it any further.
func (c *Chunker) splitByRune(text string, start, end int) []span {
	budget := c.cfg.ChunkSize * charsPerToken
	if budget <= 0 {
		return []span{{start, end}}
	}
	overlap := c.cfg.ChunkOverlap * charsPerToken

	var chunks []span
	chunkStart := start
	pos := start
	for pos < end {
		_, size := utf8.DecodeRuneInString(text[pos:end])
		if pos-chunkStart >= budget {
			chunks = append(chunks, span{chunkStart, pos})
			next := pos - overlap
			if next < chunkStart {
				next = pos
			}
			chunkStart = next
		}
		pos += size
	}
	if chunkStart < end {
		chunks = append(chunks, span{chunkStart, end})
	}
	return chunks
}

// SplitIntoSentences splits text into sentences on ".", "!", and "?"
// followed by whitespace or end of text, per spec §4.11's retrieval-loop
// helper. Used to re-score a parent chunk at sentence granularity during
// hybrid retrieval.
func SplitIntoSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
