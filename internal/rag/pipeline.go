// Package rag implements the Retrieval-Augmented Generation pipeline of
// spec §4.11: document ingestion into a dense vector index and a BM25
// sparse index, hybrid retrieval, and adaptive context accumulation against
// an LLM capability handle.
//
// The pipeline owns none of the capability backends it drives — it holds
// handles into the dense [memindex.Vtable], the [embeddings.Vtable], and the
// [llm.Vtable], exactly like every other consumer of those vtables (§4.6).
// The BM25 [bm25.Index] is held directly since it has no vtable/handle layer
// of its own (spec §4.10 describes it as plain in-process state).
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/runanywhere/racore/internal/mcp/mcphost"
	"github.com/runanywhere/racore/pkg/bm25"
	"github.com/runanywhere/racore/pkg/memindex"
	"github.com/runanywhere/racore/pkg/provider/embeddings"
	"github.com/runanywhere/racore/pkg/provider/llm"
	"github.com/runanywhere/racore/pkg/rachandle"
	"github.com/runanywhere/racore/pkg/racerr"
	"github.com/runanywhere/racore/pkg/types"
)

// iclSystemPrompt is the fixed contrastive in-context-learning prompt
// injected before adaptive context accumulation (spec §4.11). The two
// worked examples teach the model to report low confidence when the
// supplied context doesn't actually answer the question, rather than
// guessing from parametric knowledge.
const iclSystemPrompt = `You answer questions using only the context supplied to you in this conversation, one piece at a time. When asked to probe your confidence, judge strictly whether the context accumulated so far actually answers the question — not whether you could guess an answer some other way.

Example 1 (sufficient context):
Context: "The Eiffel Tower was completed in 1889 for the World's Fair."
Question: "When was the Eiffel Tower completed?"
Confidence: 0.95 — the context states the completion year directly.

Example 2 (insufficient context):
Context: "The Eiffel Tower is located in Paris, France."
Question: "How tall is the Eiffel Tower?"
Confidence: 0.1 — the context says where the tower is, not how tall it is.

Report low confidence whenever the context doesn't directly answer the question, even if you happen to know the answer from elsewhere.`

// noContextAnswer is returned when strict filtering mode is enabled and
// confidence never reached the threshold (spec §4.11's "reason=no_context"
// path).
const noContextAnswer = "I don't have enough information to answer that question."

// Config controls a [Pipeline]'s chunking, retrieval, and adaptive
// accumulation behavior. Zero-value fields take spec-documented defaults.
type Config struct {
	Chunker ChunkerConfig

	// DenseTopParents is how many parent chunks the dense search step
	// returns (spec: top-5).
	DenseTopParents int
	// SimilarityFloor discards dense parent-chunk hits below this
	// normalized score.
	SimilarityFloor float64
	// BM25TopChunks is how many chunks the BM25 search step returns for
	// fusion with the dense results.
	BM25TopChunks int
	// FusionWeight is the dense score's weight in score-normalization
	// fusion (spec default: 0.5, i.e. equal weight with BM25).
	FusionWeight float64
	// TopSentences is how many fused sentences survive into the adaptive
	// accumulation loop (spec: top-K, default 10).
	TopSentences int
	// ConfidenceThreshold is the probe_confidence value the adaptive loop
	// stops at (spec default: 0.5).
	ConfidenceThreshold float64
	// StrictFiltering, when true, discards any partial context and returns
	// the canned no_context answer if the threshold is never reached.
	StrictFiltering bool
}

func (c Config) withDefaults() Config {
	if c.DenseTopParents <= 0 {
		c.DenseTopParents = 5
	}
	if c.BM25TopChunks <= 0 {
		c.BM25TopChunks = c.DenseTopParents * 2
	}
	if c.FusionWeight <= 0 {
		c.FusionWeight = 0.5
	}
	if c.TopSentences <= 0 {
		c.TopSentences = 10
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.5
	}
	return c
}

// RetrievalSource is one fused-and-ranked source that contributed to an
// answer, reported in [QueryResult.Sources].
type RetrievalSource struct {
	ChunkID string
	Score   float64
}

// QueryResult is the outcome of [Pipeline.Query]: the generated answer plus
// the metadata fields spec §4.11 requires.
type QueryResult struct {
	Answer string

	SentencesUsed      int
	FinalConfidence    float64
	ThresholdReached   bool
	TotalSentences     int
	KeepPartialContext bool
	Reason             string
	Sources            []RetrievalSource
}

// Pipeline wires a dense index, a BM25 index, a chunker, and embeddings/LLM
// capability handles into the ingest and hybrid-retrieval operations of
// spec §4.11.
type Pipeline struct {
	cfg     Config
	chunker *Chunker

	dense    *memindex.Vtable
	denseH   rachandle.Handle
	sparse   *bm25.Index
	embedder *embeddings.Vtable
	embedH   rachandle.Handle
	llmv     *llm.Vtable
	llmH     rachandle.Handle

	// mcpHost routes probe_confidence through the same budget-tiered tool
	// call path every other MCP tool uses (spec §4.9), rather than letting
	// the adaptive accumulation loop call the LLM vtable directly.
	mcpHost *mcphost.Host

	// texts caches each ingested chunk's source text by ID, since the BM25
	// index (spec §4.10) stores only postings, not the original text, and
	// hybrid retrieval needs the raw text of a BM25-only hit to split it
	// into sentences.
	textsMu sync.RWMutex
	texts   map[string]string
}

// confidenceToolName is the builtin MCP tool name probe_confidence is
// registered under in every [Pipeline]'s private [mcphost.Host].
const confidenceToolName = "probe_confidence"

// confidenceArgs is the JSON argument shape confidenceToolName accepts.
type confidenceArgs struct {
	Query string `json:"query"`
}

// New constructs a [Pipeline]. dense must already be populated at denseH via
// [memindex.Vtable.Create] with a cosine or inner-product metric backend
// (hybrid retrieval assumes larger-is-better similarity scores); sparse is an
// empty or pre-populated [bm25.Index]; embedH and llmH must be live handles
// on embedder and llmv respectively.
func New(cfg Config, dense *memindex.Vtable, denseH rachandle.Handle, sparse *bm25.Index, embedder *embeddings.Vtable, embedH rachandle.Handle, llmv *llm.Vtable, llmH rachandle.Handle) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:      cfg,
		chunker:  NewChunker(cfg.Chunker),
		dense:    dense,
		denseH:   denseH,
		sparse:   sparse,
		embedder: embedder,
		embedH:   embedH,
		llmv:     llmv,
		llmH:     llmH,
		mcpHost:  mcphost.New(),
		texts:    make(map[string]string),
	}
	_ = p.mcpHost.RegisterBuiltin(mcphost.BuiltinTool{
		Definition: llm.ToolDefinition{
			Name:        confidenceToolName,
			Description: "Reports how confidently the model can answer a question using only the context accumulated so far.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		Handler:     p.probeConfidenceTool,
		DeclaredP50: 300,
	})
	return p
}

// Close releases the pipeline's private MCP tool host. Safe to call once the
// pipeline is no longer in use.
func (p *Pipeline) Close() error {
	return p.mcpHost.Close()
}

// probeConfidenceTool is confidenceToolName's handler: it unmarshals args
// into a query string and delegates to the LLM vtable's native
// probe_confidence operation, routing the result back through the tool-call
// protocol every other MCP tool uses.
func (p *Pipeline) probeConfidenceTool(ctx context.Context, args string) (string, error) {
	var a confidenceArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("rag: invalid probe_confidence args: %w", err)
	}
	conf, err := p.llmv.ProbeConfidence(ctx, p.llmH, a.Query)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(conf, 'f', -1, 64), nil
}

// AddDocument chunks text, embeds each chunk, and stores it in both the
// dense index and the BM25 index (spec §4.11's ingest operation). source
// identifies the document for chunk IDs and is recorded in each chunk's
// metadata; metadata's keys are merged into every chunk's stored metadata
// alongside it. Returns the number of chunks stored.
func (p *Pipeline) AddDocument(ctx context.Context, source, text string, metadata map[string]string) (int, error) {
	chunks := p.chunker.Split(text)
	for _, chunk := range chunks {
		chunkID := fmt.Sprintf("%s#%d", source, chunk.Index)

		vec, err := p.embedder.Embed(ctx, p.embedH, chunk.Text)
		if err != nil {
			return 0, racerr.New(racerr.InferenceFailed, "rag", "add_document", err.Error(), 0)
		}

		metaJSON, err := encodeMetadata(source, metadata)
		if err != nil {
			return 0, racerr.New(racerr.InvalidArgument, "rag", "add_document", err.Error(), 0)
		}

		if err := p.dense.Add(ctx, p.denseH, memindex.Entry{
			ID:       chunkID,
			Vector:   vec,
			Metadata: metaJSON,
			Text:     chunk.Text,
		}); err != nil {
			return 0, err
		}
		if err := p.sparse.Add(ctx, chunkID, chunk.Text); err != nil {
			return 0, racerr.New(racerr.InferenceFailed, "rag", "add_document", err.Error(), 0)
		}

		p.textsMu.Lock()
		p.texts[chunkID] = chunk.Text
		p.textsMu.Unlock()
	}
	return len(chunks), nil
}

func encodeMetadata(source string, metadata map[string]string) (string, error) {
	merged := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["source"] = source
	b, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// scoredSentence is a sentence pulled from a fused parent chunk, scored by
// cosine similarity against the query during hybrid retrieval.
type scoredSentence struct {
	text    string
	chunkID string
	score   float64
}

// Query runs hybrid retrieval followed by adaptive context accumulation for
// query, per spec §4.11, and returns the generated answer with its
// retrieval metadata.
func (p *Pipeline) Query(ctx context.Context, query string) (QueryResult, error) {
	qvec, err := p.embedder.Embed(ctx, p.embedH, query)
	if err != nil {
		return QueryResult{}, racerr.New(racerr.InferenceFailed, "rag", "query", err.Error(), 0)
	}

	parentIDs, err := p.fusedParentChunks(ctx, query, qvec)
	if err != nil {
		return QueryResult{}, err
	}

	sentences, err := p.scoreSentences(ctx, parentIDs, qvec)
	if err != nil {
		return QueryResult{}, err
	}
	if len(sentences) > p.cfg.TopSentences {
		sentences = sentences[:p.cfg.TopSentences]
	}

	return p.accumulateAndAnswer(ctx, query, sentences)
}

// fusedParentChunks runs the dense and BM25 chunk-level searches and fuses
// their rankings via min-max score normalization, per spec §4.11 step 4.
func (p *Pipeline) fusedParentChunks(ctx context.Context, query string, qvec []float32) ([]string, error) {
	denseHits, err := p.dense.Search(ctx, p.denseH, qvec, p.cfg.DenseTopParents, nil)
	if err != nil {
		return nil, racerr.New(racerr.InferenceFailed, "rag", "query", err.Error(), 0)
	}
	denseScores := make(map[string]float64, len(denseHits))
	for _, hit := range denseHits {
		if hit.Score >= p.cfg.SimilarityFloor {
			denseScores[hit.ID] = hit.Score
		}
	}

	bm25Hits, err := p.sparse.Search(ctx, query, p.cfg.BM25TopChunks)
	if err != nil {
		return nil, racerr.New(racerr.InferenceFailed, "rag", "query", err.Error(), 0)
	}
	bm25Scores := make(map[string]float64, len(bm25Hits))
	for _, hit := range bm25Hits {
		bm25Scores[hit.DocID] = hit.Score
	}

	denseNorm := minMaxNormalize(denseScores)
	bm25Norm := minMaxNormalize(bm25Scores)

	fused := make(map[string]float64, len(denseNorm)+len(bm25Norm))
	for id := range union(denseNorm, bm25Norm) {
		fused[id] = p.cfg.FusionWeight*denseNorm[id] + (1-p.cfg.FusionWeight)*bm25Norm[id]
	}

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if fused[ids[i]] != fused[ids[j]] {
			return fused[ids[i]] > fused[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > p.cfg.DenseTopParents {
		ids = ids[:p.cfg.DenseTopParents]
	}
	return ids, nil
}

// minMaxNormalize rescales scores to [0, 1]. A single-element or
// all-equal-score map normalizes to 1 for every entry, since there is no
// meaningful spread to rank within.
func minMaxNormalize(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := minMax(scores)
	if max == min {
		for id := range scores {
			out[id] = 1
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - min) / (max - min)
	}
	return out
}

func minMax(scores map[string]float64) (min, max float64) {
	first := true
	for _, s := range scores {
		if first {
			min, max = s, s
			first = false
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

func union(a, b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	for id := range a {
		out[id] = 0
	}
	for id := range b {
		out[id] = 0
	}
	return out
}

// scoreSentences splits each parent chunk into sentences and scores them by
// cosine similarity against qvec (spec §4.11 step 3).
func (p *Pipeline) scoreSentences(ctx context.Context, parentIDs []string, qvec []float32) ([]scoredSentence, error) {
	var out []scoredSentence
	for _, id := range parentIDs {
		p.textsMu.RLock()
		text := p.texts[id]
		p.textsMu.RUnlock()
		if text == "" {
			continue
		}
		for _, sentence := range SplitIntoSentences(text) {
			vec, err := p.embedder.Embed(ctx, p.embedH, sentence)
			if err != nil {
				return nil, racerr.New(racerr.InferenceFailed, "rag", "query", err.Error(), 0)
			}
			out = append(out, scoredSentence{text: sentence, chunkID: id, score: cosine(qvec, vec)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// accumulateAndAnswer runs spec §4.11's adaptive context accumulation loop:
// clear context, inject the contrastive ICL prompt, append sentences one at
// a time, probing confidence after each, stopping at threshold or
// exhaustion, then generating the final answer (or the strict-filtering
// no_context fallback).
func (p *Pipeline) accumulateAndAnswer(ctx context.Context, query string, sentences []scoredSentence) (QueryResult, error) {
	if err := p.llmv.ClearContext(p.llmH); err != nil {
		return QueryResult{}, err
	}
	if err := p.llmv.InjectSystemPrompt(p.llmH, iclSystemPrompt); err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{TotalSentences: len(sentences)}
	for i, s := range sentences {
		if err := p.llmv.AppendContext(p.llmH, contextMessage(s.text)); err != nil {
			return QueryResult{}, err
		}
		conf, err := p.probeConfidence(ctx, query)
		if err != nil {
			return QueryResult{}, racerr.New(racerr.InferenceFailed, "rag", "query", err.Error(), 0)
		}
		result.FinalConfidence = conf
		result.SentencesUsed = i + 1
		if conf > p.cfg.ConfidenceThreshold {
			result.ThresholdReached = true
			break
		}
	}

	if !result.ThresholdReached && p.cfg.StrictFiltering {
		if err := p.llmv.ClearContext(p.llmH); err != nil {
			return QueryResult{}, err
		}
		if err := p.llmv.InjectSystemPrompt(p.llmH, iclSystemPrompt); err != nil {
			return QueryResult{}, err
		}
		result.Answer = noContextAnswer
		result.Reason = "no_context"
		result.KeepPartialContext = false
		result.Sources = sourcesFrom(nil)
		return result, nil
	}

	result.KeepPartialContext = !result.ThresholdReached
	resp, err := p.llmv.Generate(ctx, p.llmH, answerPrompt(query), llm.GenerateOptions{})
	if err != nil {
		return QueryResult{}, err
	}
	result.Answer = resp.Content
	result.Sources = sourcesFrom(sentences[:result.SentencesUsed])
	return result, nil
}

// probeConfidence calls confidenceToolName through the pipeline's MCP host
// rather than the LLM vtable directly, so adaptive accumulation exercises
// the same budget-tiered tool-call path as every other MCP tool (spec §4.9,
// §4.11).
func (p *Pipeline) probeConfidence(ctx context.Context, query string) (float64, error) {
	argsJSON, err := json.Marshal(confidenceArgs{Query: query})
	if err != nil {
		return 0, err
	}
	result, err := p.mcpHost.ExecuteTool(ctx, confidenceToolName, string(argsJSON))
	if err != nil {
		return 0, err
	}
	if result.IsError {
		return 0, fmt.Errorf("rag: %s: %s", confidenceToolName, result.Content)
	}
	conf, err := strconv.ParseFloat(result.Content, 64)
	if err != nil {
		return 0, fmt.Errorf("rag: %s: invalid confidence value %q: %w", confidenceToolName, result.Content, err)
	}
	return conf, nil
}

func contextMessage(sentence string) types.Message {
	return types.Message{Role: "system", Content: "Context: " + sentence}
}

func answerPrompt(query string) string {
	var b strings.Builder
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func sourcesFrom(used []scoredSentence) []RetrievalSource {
	seen := make(map[string]float64)
	order := make([]string, 0, len(used))
	for _, s := range used {
		if _, ok := seen[s.chunkID]; !ok {
			order = append(order, s.chunkID)
		}
		if s.score > seen[s.chunkID] {
			seen[s.chunkID] = s.score
		}
	}
	out := make([]RetrievalSource, 0, len(order))
	for _, id := range order {
		out = append(out, RetrievalSource{ChunkID: id, Score: seen[id]})
	}
	return out
}

// cosine computes cosine similarity between a and b, used to re-score
// sentences against the query embedding during hybrid retrieval (spec
// §4.11 step 3). Returns 0 for a zero-length vector rather than dividing by
// zero.
func cosine(a, b []float32) float64 {
	var dot, magA, magB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
