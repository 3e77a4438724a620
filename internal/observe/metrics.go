// Package observe provides application-wide observability primitives for
// the runtime core: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all runtime-core metrics.
const meterName = "github.com/runanywhere/racore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per capability service (spec §4.6) ---

	VADDuration        metric.Float64Histogram
	STTDuration        metric.Float64Histogram
	LLMDuration        metric.Float64Histogram
	TTSDuration        metric.Float64Histogram
	EmbeddingsDuration metric.Float64Histogram
	VLMDuration        metric.Float64Histogram
	DiffusionDuration  metric.Float64Histogram

	// VoiceAgentTurnDuration tracks one full listening→speaking turn of the
	// Voice Agent Pipeline (spec §4.12), end to end.
	VoiceAgentTurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ComponentRequests counts capability service calls. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("framework", ...), attribute.String("status", ...)
	ComponentRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// RAGQueries counts RAG Pipeline retrieval requests.
	RAGQueries metric.Int64Counter

	// --- Error counters ---

	// ComponentErrors counts capability service errors. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("framework", ...)
	ComponentErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveComponents tracks the number of currently loaded (ready)
	// capability service components.
	ActiveComponents metric.Int64UpDownCounter

	// ActiveVoiceTurns tracks the number of Voice Agent Pipeline turns
	// currently in flight (transcribing/generating/speaking).
	ActiveVoiceTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline and inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.VADDuration, "racore.vad.duration", "Latency of voice activity detection."},
		{&met.STTDuration, "racore.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "racore.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "racore.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.EmbeddingsDuration, "racore.embeddings.duration", "Latency of embedding computation."},
		{&met.VLMDuration, "racore.vlm.duration", "Latency of vision-language model inference."},
		{&met.DiffusionDuration, "racore.diffusion.duration", "Latency of image diffusion generation."},
		{&met.VoiceAgentTurnDuration, "racore.voice_agent.turn.duration", "End-to-end Voice Agent Pipeline turn latency."},
		{&met.ToolExecutionDuration, "racore.tool_execution.duration", "Latency of MCP tool execution."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ComponentRequests, err = m.Int64Counter("racore.component.requests",
		metric.WithDescription("Total capability service requests by capability, framework, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("racore.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.RAGQueries, err = m.Int64Counter("racore.rag.queries",
		metric.WithDescription("Total RAG Pipeline retrieval queries."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ComponentErrors, err = m.Int64Counter("racore.component.errors",
		metric.WithDescription("Total capability service errors by capability and framework."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveComponents, err = m.Int64UpDownCounter("racore.active_components",
		metric.WithDescription("Number of currently loaded (ready) capability service components."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceTurns, err = m.Int64UpDownCounter("racore.active_voice_turns",
		metric.WithDescription("Number of Voice Agent Pipeline turns currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("racore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordComponentRequest is a convenience method that records a capability
// service request counter increment with the standard attribute set.
func (m *Metrics) RecordComponentRequest(ctx context.Context, capability, framework, status string) {
	m.ComponentRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("framework", framework),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordRAGQuery is a convenience method that records a RAG Pipeline query
// counter increment.
func (m *Metrics) RecordRAGQuery(ctx context.Context) {
	m.RAGQueries.Add(ctx, 1)
}

// RecordComponentError is a convenience method that records a capability
// service error counter increment.
func (m *Metrics) RecordComponentError(ctx context.Context, capability, framework string) {
	m.ComponentErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("framework", framework),
		),
	)
}
