// Package bm25 implements the sparse lexical index of spec §4.10: classical
// Okapi BM25 with k1=1.2, b=0.75, used alongside the dense [memindex.Index]
// in the RAG pipeline's hybrid retrieval step (§4.11).
//
// No BM25 implementation exists in the example pack (the pack's hybrid
// retrieval tools call out to an external full-text search service rather
// than scoring in-process), so this index is hand-written directly from
// spec §4.10's parameters and state list. See DESIGN.md.
package bm25

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Result is one scored hit from [Index.Search].
type Result struct {
	DocID string
	Score float64
}

// Index is a classical BM25 inverted index over whole documents identified
// by an opaque caller-supplied DocID. Safe for concurrent use: reads take a
// shared lock, writes (Add/Remove) take an exclusive one.
type Index struct {
	mu sync.RWMutex

	postings       map[string]map[string]int // term -> docID -> term frequency
	docTokenCounts map[string]int            // docID -> total token count
	totalTokens    int
	docCount       int
}

// New constructs an empty BM25 [Index].
func New() *Index {
	return &Index{
		postings:       make(map[string]map[string]int),
		docTokenCounts: make(map[string]int),
	}
}

// Tokenize lower-cases text, strips punctuation, and splits on whitespace,
// per spec §4.10. Exported so callers (e.g. the RAG pipeline) can tokenize a
// query the same way documents were tokenized.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if unicode.IsPunct(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Fields(b.String())
}

// Add indexes docID's text, tokenizing it per [Tokenize]. Re-adding an
// existing docID replaces its prior posting entries and token count.
func (idx *Index) Add(ctx context.Context, docID string, text string) error {
	tokens := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for term, count := range tf {
		bucket, ok := idx.postings[term]
		if !ok {
			bucket = make(map[string]int)
			idx.postings[term] = bucket
		}
		bucket[docID] = count
	}
	idx.docTokenCounts[docID] = len(tokens)
	idx.totalTokens += len(tokens)
	idx.docCount++
	return nil
}

// Remove deletes docID from the index. Removing an absent docID is not an
// error.
func (idx *Index) Remove(ctx context.Context, docID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
	return nil
}

func (idx *Index) removeLocked(docID string) {
	count, existed := idx.docTokenCounts[docID]
	if !existed {
		return
	}
	for term, bucket := range idx.postings {
		if _, ok := bucket[docID]; ok {
			delete(bucket, docID)
			if len(bucket) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	delete(idx.docTokenCounts, docID)
	idx.totalTokens -= count
	idx.docCount--
}

// Search scores every document containing at least one query term and
// returns the top-k by descending BM25 score, per spec §4.10.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	terms := Tokenize(query)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return nil, nil
	}
	avgDocLen := float64(idx.totalTokens) / float64(idx.docCount)

	scores := make(map[string]float64)
	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue // repeated query terms don't get scored twice
		}
		seen[term] = true
		bucket, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := inverseDocFreq(idx.docCount, len(bucket))
		for docID, tf := range bucket {
			docLen := float64(idx.docTokenCounts[docID])
			norm := float64(tf) * (k1 + 1)
			denom := float64(tf) + k1*(1-b+b*docLen/avgDocLen)
			scores[docID] += idf * (norm / denom)
		}
	}

	out := make([]Result, 0, len(scores))
	for docID, score := range scores {
		out = append(out, Result{DocID: docID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID // stable tie-break for deterministic tests
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// inverseDocFreq computes the classical Robertson-Spärck-Jones IDF with the
// +1 smoothing term, which keeps the weight non-negative even when a term
// appears in more than half the corpus.
func inverseDocFreq(totalDocs, docsWithTerm int) float64 {
	return math.Log((float64(totalDocs)-float64(docsWithTerm)+0.5)/(float64(docsWithTerm)+0.5) + 1)
}
