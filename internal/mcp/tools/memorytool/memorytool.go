// Package memorytool exposes the RAG Pipeline's ingest and hybrid-retrieval
// operations (spec §4.11) as built-in MCP tools, so an LLM component can
// query or extend the runtime core's Memory Index through ordinary
// tool-calling instead of a bespoke API.
//
// Two tools are exported via [NewTools]:
//   - "query_memory"  — hybrid dense+BM25 retrieval with adaptive context
//     accumulation, returning a generated answer plus its confidence metadata.
//   - "add_document"   — chunk, embed, and index a document's text.
//
// Both handlers are safe for concurrent use, since [rag.Pipeline] is.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runanywhere/racore/internal/mcp/tools"
	"github.com/runanywhere/racore/internal/rag"
	"github.com/runanywhere/racore/pkg/provider/llm"
)

// queryMemoryArgs is the JSON-decoded input for the "query_memory" tool.
type queryMemoryArgs struct {
	// Query is the natural-language question to answer from indexed memory.
	Query string `json:"query"`
}

// addDocumentArgs is the JSON-decoded input for the "add_document" tool.
type addDocumentArgs struct {
	// Source identifies the document; used to derive chunk IDs.
	Source string `json:"source"`

	// Text is the document's full text, chunked and indexed by the pipeline.
	Text string `json:"text"`

	// Metadata is merged into every chunk's stored metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// makeQueryMemoryHandler returns a handler for the "query_memory" tool that
// delegates to pipeline.Query.
func makeQueryMemoryHandler(pipeline *rag.Pipeline) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a queryMemoryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: query_memory: failed to parse arguments: %w", err)
		}
		if a.Query == "" {
			return "", fmt.Errorf("memory tool: query_memory: query must not be empty")
		}

		result, err := pipeline.Query(ctx, a.Query)
		if err != nil {
			return "", fmt.Errorf("memory tool: query_memory: %w", err)
		}

		res, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("memory tool: query_memory: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// makeAddDocumentHandler returns a handler for the "add_document" tool that
// delegates to pipeline.AddDocument.
func makeAddDocumentHandler(pipeline *rag.Pipeline) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a addDocumentArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("memory tool: add_document: failed to parse arguments: %w", err)
		}
		if a.Source == "" || a.Text == "" {
			return "", fmt.Errorf("memory tool: add_document: source and text must not be empty")
		}

		n, err := pipeline.AddDocument(ctx, a.Source, a.Text, a.Metadata)
		if err != nil {
			return "", fmt.Errorf("memory tool: add_document: %w", err)
		}

		res, err := json.Marshal(map[string]int{"chunks_indexed": n})
		if err != nil {
			return "", fmt.Errorf("memory tool: add_document: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// NewTools constructs the memory tools, wired to the provided RAG pipeline.
func NewTools(pipeline *rag.Pipeline) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "query_memory",
				Description: "Answer a question using the Memory Index's hybrid dense+BM25 retrieval with adaptive context accumulation. Returns a generated answer plus retrieval confidence metadata.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The natural-language question to answer from indexed memory.",
						},
					},
					"required": []string{"query"},
				},
				EstimatedDurationMs: 400,
				MaxDurationMs:       2000,
				Idempotent:          true,
				CacheableSeconds:    0,
			},
			Handler:     makeQueryMemoryHandler(pipeline),
			DeclaredP50: 400,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "add_document",
				Description: "Chunk, embed, and index a document's text into the Memory Index, making it retrievable by query_memory.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source": map[string]any{
							"type":        "string",
							"description": "Identifier for the document, used to derive its chunk IDs.",
						},
						"text": map[string]any{
							"type":        "string",
							"description": "The document's full text.",
						},
						"metadata": map[string]any{
							"type":                 "object",
							"description":          "Optional key/value metadata merged into every stored chunk.",
							"additionalProperties": map[string]any{"type": "string"},
						},
					},
					"required": []string{"source", "text"},
				},
				EstimatedDurationMs: 300,
				MaxDurationMs:       1500,
				Idempotent:          false,
				CacheableSeconds:    0,
			},
			Handler:     makeAddDocumentHandler(pipeline),
			DeclaredP50: 300,
			DeclaredMax: 1500,
		},
	}
}
